// Package sessionmgr owns the IMAP connection and its state machine: folder
// selection, authentication, and the serialization of protocol exchanges.
// A session is safe for concurrent use, but only one exchange runs on the
// wire at a time, and an active watch holds the transport exclusively.
package sessionmgr

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	giimapclient "github.com/emersion/go-imap/v2/imapclient"
	"github.com/pkg/errors"

	"github.com/ikatson/betterimap/pkg/base"
	"github.com/ikatson/betterimap/pkg/credentials"
)

// Security selects the transport security mode for the connection.
type Security int

const (
	SecurityTLS Security = iota
	SecurityStartTLS
	SecurityInsecure
)

type Option func(*Session)

// Session is the mailbox session state machine. All protocol exchanges are
// funneled through its exchange mutex; a watcher acquires the transport via
// AcquireWatch and holds it for the lifetime of the subscription.
type Session struct {
	addr      string
	security  Security
	tlsConfig *tls.Config
	password  *credentials.Password
	oauth     *credentials.Provider
	log       *slog.Logger

	mu         sync.Mutex
	client     *giimapclient.Client
	state      base.SessionState
	selected   string
	selectData *imap.SelectData
	watchOwned bool

	updates chan uint32
}

func WithAddr(addr string) Option {
	return func(s *Session) {
		s.addr = addr
	}
}

func WithPassword(cred credentials.Password) Option {
	return func(s *Session) {
		s.password = &cred
	}
}

func WithOAuth(provider *credentials.Provider) Option {
	return func(s *Session) {
		s.oauth = provider
	}
}

func WithSecurity(mode Security) Option {
	return func(s *Session) {
		s.security = mode
	}
}

func WithTLSConfig(config *tls.Config) Option {
	return func(s *Session) {
		s.tlsConfig = config
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

func New(opts ...Option) *Session {
	s := &Session{
		log:     slog.Default(),
		updates: make(chan uint32, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) validate() error {
	if strings.TrimSpace(s.addr) == "" {
		return errors.New("IMAP address is required")
	}
	if s.password == nil && s.oauth == nil {
		return errors.New("IMAP credentials are required")
	}
	return nil
}

// Connect dials the server and authenticates. It is a no-op when the session
// is already established.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	options := &giimapclient.Options{
		TLSConfig: s.tlsConfig,
		UnilateralDataHandler: &giimapclient.UnilateralDataHandler{
			Mailbox: func(data *giimapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case s.updates <- *data.NumMessages:
				default:
				}
			},
		},
	}

	var client *giimapclient.Client
	var err error
	switch s.security {
	case SecurityStartTLS:
		client, err = giimapclient.DialStartTLS(s.addr, options)
	case SecurityInsecure:
		client, err = giimapclient.DialInsecure(s.addr, options)
	default:
		client, err = giimapclient.DialTLS(s.addr, options)
	}
	if err != nil {
		return &base.ConnectionError{Err: err}
	}

	if err := s.authenticate(ctx, client); err != nil {
		_ = client.Logout().Wait()
		return err
	}

	s.client = client
	s.state = base.StateAuthenticated
	s.log.Debug("session authenticated", "addr", s.addr)
	return nil
}

func (s *Session) authenticate(ctx context.Context, client *giimapclient.Client) error {
	if s.oauth != nil {
		token, err := s.oauth.Token(ctx)
		if err != nil {
			return err
		}
		if err := client.Authenticate(credentials.NewXOAuth2(s.oauth.Username(), token)); err != nil {
			return &base.AuthError{Err: err}
		}
		return nil
	}
	if err := client.Login(s.password.Username, s.password.Password).Wait(); err != nil {
		if isTransportErr(err) {
			return &base.ConnectionError{Err: err}
		}
		return &base.AuthError{Err: err}
	}
	return nil
}

// Select makes folder the selected mailbox. Re-selecting the current folder
// is a no-op; selecting a different folder while a watcher owns the transport
// fails with ErrSessionBusy.
func (s *Session) Select(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(folder) == "" {
		return errors.New("folder name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == base.StateUnauthenticated {
		return base.ErrNotAuthenticated
	}
	if s.selected == folder {
		return nil
	}
	if s.watchOwned {
		return base.ErrSessionBusy
	}

	data, err := s.client.Select(folder, nil).Wait()
	if err != nil {
		if isTransportErr(err) {
			s.invalidateLocked(err)
			return &base.ConnectionError{Err: err}
		}
		return &base.FolderError{Folder: folder, Err: err}
	}
	s.selected = folder
	s.selectData = data
	s.state = base.StateSelected
	s.log.Debug("folder selected", "folder", folder, "messages", data.NumMessages)
	return nil
}

// ListFolders returns the folders of the account in server order.
func (s *Session) ListFolders(ctx context.Context) ([]base.Folder, error) {
	var list []base.Folder
	err := s.Execute(ctx, func(client *giimapclient.Client) error {
		boxes, err := client.List("", "*", nil).Collect()
		if err != nil {
			return err
		}
		list = make([]base.Folder, 0, len(boxes))
		for _, box := range boxes {
			list = append(list, base.Folder{Name: box.Mailbox, Attrs: box.Attrs})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Execute runs one protocol exchange under the session's exchange mutex. It
// fails with ErrSessionBusy while a watcher owns the transport; a transport
// failure inside fn invalidates the session and surfaces as ConnectionError.
func (s *Session) Execute(ctx context.Context, fn func(client *giimapclient.Client) error) error {
	return s.execute(ctx, false, fn)
}

func (s *Session) execute(ctx context.Context, owned bool, fn func(client *giimapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchOwned && !owned {
		return base.ErrSessionBusy
	}
	if s.client == nil {
		return base.ErrNotAuthenticated
	}
	if err := fn(s.client); err != nil {
		if isTransportErr(err) {
			s.invalidateLocked(err)
			return &base.ConnectionError{Err: err}
		}
		return err
	}
	return nil
}

// State returns the session's authentication state.
func (s *Session) State() base.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelectedFolder returns the name of the selected folder, or "".
func (s *Session) SelectedFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// UIDNext returns the predicted next UID of the selected folder as reported
// at selection time, or 0.
func (s *Session) UIDNext() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectData == nil {
		return 0
	}
	return uint32(s.selectData.UIDNext)
}

// Close logs out and resets the session to unauthenticated. It fails with
// ErrSessionBusy while a watcher owns the transport; stop the watch first.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchOwned {
		return base.ErrSessionBusy
	}
	if s.client == nil {
		return nil
	}
	err := s.client.Logout().Wait()
	s.resetLocked()
	return err
}

func (s *Session) invalidateLocked(cause error) {
	s.log.Warn("session invalidated", "error", cause)
	if s.client != nil {
		_ = s.client.Close()
	}
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.client = nil
	s.state = base.StateUnauthenticated
	s.selected = ""
	s.selectData = nil
}

// isTransportErr separates socket-level failures from protocol-level NO/BAD
// responses, which arrive as *imap.Error.
func isTransportErr(err error) bool {
	if err == nil {
		return false
	}
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
