// Package watchers delivers newly arrived messages as they land in a
// selected folder, using the protocol's idle extension.
package watchers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ikatson/betterimap/pkg/base"
	"github.com/ikatson/betterimap/pkg/imap/fetchers"
	"github.com/ikatson/betterimap/pkg/imap/searches"
	"github.com/ikatson/betterimap/pkg/imap/sessionmgr"
)

const (
	// DefaultKeepalive bounds a single idle wait. Servers are allowed to
	// drop connections idling longer than 30 minutes; restarting well under
	// that keeps the subscription alive.
	DefaultKeepalive = 14 * time.Minute

	reconnectBackoffMin = time.Second
	reconnectBackoffMax = time.Minute

	messageBuffer = 16
)

type Manager struct {
	session   *sessionmgr.Session
	log       *slog.Logger
	keepalive time.Duration
}

type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithKeepalive(d time.Duration) Option {
	return func(m *Manager) { m.keepalive = d }
}

func New(session *sessionmgr.Session, opts ...Option) *Manager {
	m := &Manager{
		session:   session,
		log:       slog.Default(),
		keepalive: DefaultKeepalive,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to new messages in the currently selected folder. It
// takes exclusive ownership of the session until the watch stops; other
// session operations fail with ErrSessionBusy in the meantime.
func (m *Manager) Start(ctx context.Context) (*Watch, error) {
	grant, err := m.session.AcquireWatch()
	if err != nil {
		return nil, err
	}
	w := newWatch(grantTransport{grant}, m.log, m.keepalive)
	go w.run(ctx)
	return w, nil
}

// Watch is a live subscription to one folder. Messages are delivered in
// arrival order on Messages until Stop is called or the context ends.
type Watch struct {
	transport Transport
	log       *slog.Logger
	keepalive time.Duration

	messages chan *fetchers.Message
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	idle    IdleHandle
	lastUID uint32
}

func newWatch(transport Transport, log *slog.Logger, keepalive time.Duration) *Watch {
	return &Watch{
		transport: transport,
		log:       log.With("folder", transport.Folder()),
		keepalive: keepalive,
		messages:  make(chan *fetchers.Message, messageBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Messages delivers materialized new messages. The channel is closed when
// the watch ends.
func (w *Watch) Messages() <-chan *fetchers.Message {
	return w.messages
}

// Stop ends the subscription, interrupting any in-flight idle wait, and
// returns once the watch goroutine has released the session. Safe to call
// more than once.
func (w *Watch) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.mu.Lock()
		if w.idle != nil {
			_ = w.idle.Close()
		}
		w.mu.Unlock()
	})
	<-w.done
}

func (w *Watch) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.messages)
	defer w.transport.Release()

	if next := w.transport.UIDNext(); next > 0 {
		w.lastUID = next - 1
	}

	for {
		if w.stopping(ctx) {
			return
		}

		// Catch up before idling: messages that landed while no idle
		// command was in flight would otherwise sit until the next wake.
		if err := w.deliver(ctx); err != nil {
			if !w.recover(ctx, err) {
				return
			}
			continue
		}

		idle, err := w.transport.Idle()
		if err != nil {
			if !w.recover(ctx, err) {
				return
			}
			continue
		}
		w.setIdle(idle)

		w.awaitUpdate(ctx)

		w.setIdle(nil)
		closeErr := idle.Close()
		waitErr := idle.Wait()
		if w.stopping(ctx) {
			return
		}
		if err := firstError(closeErr, waitErr); err != nil {
			if !w.recover(ctx, err) {
				return
			}
		}
	}
}

// awaitUpdate blocks inside one idle wait until the server announces new
// messages, the keepalive expires, or the watch shuts down.
func (w *Watch) awaitUpdate(ctx context.Context) {
	timer := time.NewTimer(w.keepalive)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-w.stop:
	case <-w.transport.Updates():
	case <-timer.C:
	}
}

// deliver finds everything above the high-water mark, materializes it, and
// emits it in arrival order. A message that fails to materialize is logged
// and skipped; it never ends the subscription.
func (w *Watch) deliver(ctx context.Context) error {
	ids, err := searches.NewerThan(ctx, w.transport, w.lastUID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	results, err := fetchers.FetchWith(ctx, w.transport, ids)
	if err != nil {
		return err
	}
	for _, res := range results {
		if uint32(res.ID) > w.lastUID {
			w.lastUID = uint32(res.ID)
		}
		if res.Err != nil {
			w.log.Warn("skipping message that failed to materialize",
				"uid", uint32(res.ID), "error", res.Err)
			continue
		}
		select {
		case w.messages <- res.Message:
		case <-w.stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// recover re-establishes the connection after a transport failure and drains
// anything that arrived during the outage. It reports whether the watch can
// continue; rejected credentials end it.
func (w *Watch) recover(ctx context.Context, cause error) bool {
	w.log.Warn("watch transport failed, reconnecting", "error", cause)

	backoff := reconnectBackoffMin
	for {
		if w.stopping(ctx) {
			return false
		}

		err := w.transport.Reconnect(ctx)
		if err == nil {
			if err := w.deliver(ctx); err == nil {
				return true
			}
			w.log.Warn("delivery after reconnect failed, retrying", "error", err)
		} else {
			var authErr *base.AuthError
			if errors.As(err, &authErr) {
				w.log.Error("watch ended, credentials rejected on reconnect", "error", err)
				return false
			}
			w.log.Warn("reconnect failed, backing off", "error", err, "backoff", backoff)
		}

		select {
		case <-time.After(backoff):
		case <-w.stop:
			return false
		case <-ctx.Done():
			return false
		}
		if backoff < reconnectBackoffMax {
			backoff *= 2
		}
	}
}

func (w *Watch) setIdle(idle IdleHandle) {
	w.mu.Lock()
	w.idle = idle
	w.mu.Unlock()
}

func (w *Watch) stopping(ctx context.Context) bool {
	select {
	case <-w.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
