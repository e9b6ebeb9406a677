package watchers

import (
	"context"

	giimapclient "github.com/emersion/go-imap/v2/imapclient"

	"github.com/ikatson/betterimap/pkg/imap/sessionmgr"
)

// IdleHandle is an in-flight idle wait. Close unblocks it and is safe to call
// from another goroutine.
type IdleHandle interface {
	Close() error
	Wait() error
}

// Transport is the exclusively owned session a watch runs on.
type Transport interface {
	Execute(ctx context.Context, fn func(client *giimapclient.Client) error) error
	Idle() (IdleHandle, error)
	Updates() <-chan uint32
	Folder() string
	UIDNext() uint32
	Reconnect(ctx context.Context) error
	Release()
}

type grantTransport struct {
	*sessionmgr.WatchGrant
}

func (t grantTransport) Idle() (IdleHandle, error) {
	cmd, err := t.WatchGrant.Idle()
	if err != nil {
		return nil, err
	}
	return cmd, nil
}
