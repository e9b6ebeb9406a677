// Package imap is the high-level mailbox client: one façade over the session
// state machine, structured search, message materialization, and the idle
// change watcher.
package imap

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/ikatson/betterimap/pkg/base"
	"github.com/ikatson/betterimap/pkg/credentials"
	"github.com/ikatson/betterimap/pkg/imap/fetchers"
	"github.com/ikatson/betterimap/pkg/imap/folders"
	"github.com/ikatson/betterimap/pkg/imap/searches"
	"github.com/ikatson/betterimap/pkg/imap/sessionmgr"
	"github.com/ikatson/betterimap/pkg/imap/watchers"
)

// DefaultFetchLimit caps EasySearch result sets when the caller does not set
// an explicit limit.
const DefaultFetchLimit = 100

type clientConfig struct {
	sessionOpts []sessionmgr.Option
	log         *slog.Logger
	keepalive   time.Duration
}

type Option func(*clientConfig)

func WithAddr(addr string) Option {
	return func(c *clientConfig) {
		c.sessionOpts = append(c.sessionOpts, sessionmgr.WithAddr(addr))
	}
}

func WithPassword(cred credentials.Password) Option {
	return func(c *clientConfig) {
		c.sessionOpts = append(c.sessionOpts, sessionmgr.WithPassword(cred))
	}
}

func WithOAuth(provider *credentials.Provider) Option {
	return func(c *clientConfig) {
		c.sessionOpts = append(c.sessionOpts, sessionmgr.WithOAuth(provider))
	}
}

func WithSecurity(mode sessionmgr.Security) Option {
	return func(c *clientConfig) {
		c.sessionOpts = append(c.sessionOpts, sessionmgr.WithSecurity(mode))
	}
}

func WithTLSConfig(config *tls.Config) Option {
	return func(c *clientConfig) {
		c.sessionOpts = append(c.sessionOpts, sessionmgr.WithTLSConfig(config))
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.log = logger
	}
}

// WithKeepalive bounds a single idle wait of the change watcher.
func WithKeepalive(d time.Duration) Option {
	return func(c *clientConfig) {
		c.keepalive = d
	}
}

// Client is the high-level IMAP client. It is safe for concurrent use; the
// underlying session serializes all protocol exchanges.
type Client struct {
	session  *sessionmgr.Session
	searches *searches.Manager
	fetchers *fetchers.Manager
	watchers *watchers.Manager
}

func NewClient(opts ...Option) *Client {
	cfg := clientConfig{
		log:       slog.Default(),
		keepalive: watchers.DefaultKeepalive,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	session := sessionmgr.New(append(cfg.sessionOpts, sessionmgr.WithLogger(cfg.log))...)
	return &Client{
		session:  session,
		searches: searches.New(session),
		fetchers: fetchers.New(session),
		watchers: watchers.New(session,
			watchers.WithLogger(cfg.log),
			watchers.WithKeepalive(cfg.keepalive)),
	}
}

// Connect dials and authenticates. No-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// State returns the session's authentication state.
func (c *Client) State() base.SessionState {
	return c.session.State()
}

// SelectedFolder returns the currently selected folder name, or "".
func (c *Client) SelectedFolder() string {
	return c.session.SelectedFolder()
}

// Select makes folder the selected mailbox.
func (c *Client) Select(ctx context.Context, folder string) error {
	return c.session.Select(ctx, folder)
}

// ListFolders returns the account's folders in server order.
func (c *Client) ListFolders(ctx context.Context) ([]base.Folder, error) {
	return c.session.ListFolders(ctx)
}

// SelectInbox resolves the inbox from the folder listing and selects it,
// returning its name.
func (c *Client) SelectInbox(ctx context.Context) (string, error) {
	list, err := c.session.ListFolders(ctx)
	if err != nil {
		return "", err
	}
	inbox, _ := folders.Inbox(list)
	if inbox.Name == "" {
		return "", &base.FolderError{Folder: "INBOX", Err: errors.New("account has no folders")}
	}
	if err := c.session.Select(ctx, inbox.Name); err != nil {
		return "", err
	}
	return inbox.Name, nil
}

// InboxFolder resolves the inbox from the folder listing without selecting
// it. The bool is false when the name is only a first-folder fallback.
func (c *Client) InboxFolder(ctx context.Context) (base.Folder, bool, error) {
	list, err := c.session.ListFolders(ctx)
	if err != nil {
		return base.Folder{}, false, err
	}
	f, ok := folders.Inbox(list)
	return f, ok, nil
}

// SentFolder resolves the sent folder from the listing.
func (c *Client) SentFolder(ctx context.Context) (base.Folder, bool, error) {
	list, err := c.session.ListFolders(ctx)
	if err != nil {
		return base.Folder{}, false, err
	}
	f, ok := folders.Sent(list)
	return f, ok, nil
}

// TrashFolder resolves the trash folder from the listing.
func (c *Client) TrashFolder(ctx context.Context) (base.Folder, bool, error) {
	list, err := c.session.ListFolders(ctx)
	if err != nil {
		return base.Folder{}, false, err
	}
	f, ok := folders.Trash(list)
	return f, ok, nil
}

// SearchFolders returns the folders whose names match the regular
// expression.
func (c *Client) SearchFolders(ctx context.Context, pattern string) ([]base.Folder, error) {
	list, err := c.session.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	return folders.Search(list, pattern)
}

// Search runs a structured search against the selected folder.
func (c *Client) Search(ctx context.Context, criteria searches.Criteria) ([]base.MessageID, error) {
	return c.searches.Search(ctx, criteria)
}

// Fetch materializes the given messages, one result per requested ID, in
// request order.
func (c *Client) Fetch(ctx context.Context, ids []base.MessageID) ([]fetchers.Result, error) {
	return c.fetchers.Fetch(ctx, ids)
}

// EasySearch searches and materializes in one call. Without an explicit
// limit, the most recent DefaultFetchLimit matches are returned.
func (c *Client) EasySearch(ctx context.Context, criteria searches.Criteria) ([]fetchers.Result, error) {
	if criteria.Limit == 0 {
		criteria.Limit = DefaultFetchLimit
	}
	ids, err := c.searches.Search(ctx, criteria)
	if err != nil {
		return nil, err
	}
	return c.fetchers.Fetch(ctx, ids)
}

// Watch subscribes to new messages in the selected folder. The session is
// exclusively owned by the watch until it is stopped.
func (c *Client) Watch(ctx context.Context) (*watchers.Watch, error) {
	return c.watchers.Start(ctx)
}
