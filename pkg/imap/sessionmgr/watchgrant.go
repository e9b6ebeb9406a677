package sessionmgr

import (
	"context"

	giimapclient "github.com/emersion/go-imap/v2/imapclient"

	"github.com/ikatson/betterimap/pkg/base"
)

// WatchGrant is exclusive ownership of the session transport, held by a
// watcher for the lifetime of its subscription. While a grant is outstanding,
// Session.Execute and Session.Select fail with ErrSessionBusy; the holder
// issues its own exchanges through the grant.
type WatchGrant struct {
	s        *Session
	released bool
}

// AcquireWatch hands the transport to a watcher. It requires a selected
// folder and fails with ErrSessionBusy when a watcher is already active.
func (s *Session) AcquireWatch() (*WatchGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != base.StateSelected {
		if s.state == base.StateUnauthenticated {
			return nil, base.ErrNotAuthenticated
		}
		return nil, base.ErrNoFolderSelected
	}
	if s.watchOwned {
		return nil, base.ErrSessionBusy
	}
	s.watchOwned = true
	return &WatchGrant{s: s}, nil
}

// Execute runs one exchange on the owned transport, bypassing the busy check
// but still serialized against any in-flight exchange.
func (g *WatchGrant) Execute(ctx context.Context, fn func(client *giimapclient.Client) error) error {
	return g.s.execute(ctx, true, fn)
}

// Idle starts an IDLE command. The returned command's Close unblocks the
// wait and is safe to call from another goroutine.
func (g *WatchGrant) Idle() (*giimapclient.IdleCommand, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if g.s.client == nil {
		return nil, base.ErrNotAuthenticated
	}
	return g.s.client.Idle()
}

// Updates delivers mailbox message-count notifications pushed by the server
// while idling.
func (g *WatchGrant) Updates() <-chan uint32 {
	return g.s.updates
}

// Folder returns the folder the grant watches.
func (g *WatchGrant) Folder() string {
	return g.s.SelectedFolder()
}

// UIDNext returns the next-UID snapshot of the watched folder.
func (g *WatchGrant) UIDNext() uint32 {
	return g.s.UIDNext()
}

// Reconnect re-establishes the connection after a transport failure:
// redial, re-authenticate (fetching a fresh token when the credential is
// OAuth2), and re-select the watched folder. Session state survives.
func (g *WatchGrant) Reconnect(ctx context.Context) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()

	if g.s.client != nil {
		_ = g.s.client.Close()
	}
	prevSelected := g.s.selected
	g.s.resetLocked()
	if err := g.s.connectLocked(ctx); err != nil {
		return err
	}
	if prevSelected == "" {
		return nil
	}
	data, err := g.s.client.Select(prevSelected, nil).Wait()
	if err != nil {
		if isTransportErr(err) {
			g.s.invalidateLocked(err)
			return &base.ConnectionError{Err: err}
		}
		return &base.FolderError{Folder: prevSelected, Err: err}
	}
	g.s.selected = prevSelected
	g.s.selectData = data
	g.s.state = base.StateSelected
	return nil
}

// Release returns the transport to the session. Safe to call more than once.
func (g *WatchGrant) Release() {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if g.released {
		return
	}
	g.released = true
	g.s.watchOwned = false
}
