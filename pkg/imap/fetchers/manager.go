// Package fetchers materializes selected messages into fully decoded
// structures: headers, bodies, and attachments in one pass.
package fetchers

import (
	"context"

	"github.com/emersion/go-imap/v2"
	giimapclient "github.com/emersion/go-imap/v2/imapclient"
	"github.com/pkg/errors"

	"github.com/ikatson/betterimap/pkg/base"
)

// Executor runs a function against a live protocol client.
type Executor interface {
	Execute(ctx context.Context, fn func(client *giimapclient.Client) error) error
}

// SessionExecutor additionally exposes the session state so fetches can be
// rejected before touching the wire.
type SessionExecutor interface {
	Executor
	State() base.SessionState
}

// Result pairs one requested message ID with its outcome. Exactly one of
// Message and Err is set.
type Result struct {
	ID      base.MessageID
	Message *Message
	Err     error
}

type Manager struct {
	session SessionExecutor
}

func New(session SessionExecutor) *Manager {
	return &Manager{session: session}
}

// Fetch retrieves the given messages from the selected folder. Results come
// back in request order, one per ID; a message that fails to materialize
// carries its error inline without aborting the rest of the batch. Bodies are
// fetched without marking messages as read.
func (m *Manager) Fetch(ctx context.Context, ids []base.MessageID) ([]Result, error) {
	if m.session.State() != base.StateSelected {
		return nil, base.ErrNoFolderSelected
	}
	return FetchWith(ctx, m.session, ids)
}

// FetchWith is Fetch against an explicit executor. The change watcher uses it
// to fetch through its exclusive session grant.
func FetchWith(ctx context.Context, exec Executor, ids []base.MessageID) ([]Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var uidSet imap.UIDSet
	for _, id := range ids {
		uidSet.AddNum(imap.UID(id))
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	options := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	found := make(map[base.MessageID]*Message, len(ids))
	err := exec.Execute(ctx, func(client *giimapclient.Client) error {
		fetchCmd := client.Fetch(uidSet, options)
		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}
			buf, err := msg.Collect()
			if err != nil {
				return err
			}
			id := base.MessageID(buf.UID)
			raw := buf.FindBodySection(bodySection)
			if raw == nil {
				continue
			}
			parsed := parseMessage(raw, buf.InternalDate)
			parsed.ID = id
			found[id] = parsed
		}
		return fetchCmd.Close()
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if msg, ok := found[id]; ok {
			results = append(results, Result{ID: id, Message: msg})
		} else {
			results = append(results, Result{ID: id, Err: errors.Errorf("message %d not returned by server", id)})
		}
	}
	return results, nil
}
