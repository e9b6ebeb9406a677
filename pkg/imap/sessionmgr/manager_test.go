package sessionmgr

import (
	"context"
	"testing"
	"time"

	giimapclient "github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikatson/betterimap/ftest"
	"github.com/ikatson/betterimap/pkg/base"
	"github.com/ikatson/betterimap/pkg/credentials"
)

func setupSession(t *testing.T, mailboxes []string, messages []ftest.Message) (*Session, *ftest.Server) {
	t.Helper()
	srv, cleanup := ftest.SetupIMAPServer(t, nil, mailboxes, messages)
	t.Cleanup(cleanup)

	session := New(
		WithAddr(srv.Addr),
		WithPassword(credentials.Password{
			Username: ftest.DefaultUser,
			Password: ftest.DefaultPass,
		}),
		WithTLSConfig(ftest.ClientTLSConfig()),
	)
	t.Cleanup(func() { _ = session.Close() })
	return session, srv
}

func TestConnectAndSelect(t *testing.T) {
	session, _ := setupSession(t, nil, []ftest.Message{
		{Raw: ftest.PlainMessage("alice@example.com", ftest.DefaultUser, "hello", "body"), Time: time.Now()},
	})
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	assert.Equal(t, base.StateAuthenticated, session.State())

	require.NoError(t, session.Select(ctx, "INBOX"))
	assert.Equal(t, base.StateSelected, session.State())
	assert.Equal(t, "INBOX", session.SelectedFolder())
	assert.Greater(t, session.UIDNext(), uint32(1))
}

func TestConnectIsIdempotent(t *testing.T) {
	session, _ := setupSession(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.Connect(ctx))
	assert.Equal(t, base.StateAuthenticated, session.State())
}

func TestConnectRejectedCredentials(t *testing.T) {
	srv, cleanup := ftest.SetupIMAPServer(t, nil, nil, nil)
	t.Cleanup(cleanup)

	session := New(
		WithAddr(srv.Addr),
		WithPassword(credentials.Password{Username: ftest.DefaultUser, Password: "wrong"}),
		WithTLSConfig(ftest.ClientTLSConfig()),
	)

	err := session.Connect(context.Background())
	require.Error(t, err)
	var authErr *base.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, base.StateUnauthenticated, session.State())
}

func TestSelectRequiresAuthentication(t *testing.T) {
	session := New(WithAddr("127.0.0.1:0"))

	err := session.Select(context.Background(), "INBOX")
	assert.ErrorIs(t, err, base.ErrNotAuthenticated)
}

func TestSelectUnknownFolder(t *testing.T) {
	session, _ := setupSession(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.Select(ctx, "INBOX"))

	err := session.Select(ctx, "Nonexistent")
	require.Error(t, err)
	var folderErr *base.FolderError
	require.ErrorAs(t, err, &folderErr)
	assert.Equal(t, "Nonexistent", folderErr.Folder)

	// The previous selection survives a failed select.
	assert.Equal(t, "INBOX", session.SelectedFolder())
	assert.Equal(t, base.StateSelected, session.State())
}

func TestReselectSameFolderIsNoop(t *testing.T) {
	session, _ := setupSession(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.Select(ctx, "INBOX"))
	require.NoError(t, session.Select(ctx, "INBOX"))
	assert.Equal(t, "INBOX", session.SelectedFolder())
}

func TestListFolders(t *testing.T) {
	session, _ := setupSession(t, []string{"Archive", "Sent"}, nil)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	list, err := session.ListFolders(ctx)
	require.NoError(t, err)

	names := make([]string, 0, len(list))
	for _, f := range list {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "INBOX")
	assert.Contains(t, names, "Archive")
	assert.Contains(t, names, "Sent")
}

func TestWatchGrantMakesSessionBusy(t *testing.T) {
	session, _ := setupSession(t, []string{"Archive"}, nil)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.Select(ctx, "INBOX"))

	grant, err := session.AcquireWatch()
	require.NoError(t, err)

	err = session.Execute(ctx, func(*giimapclient.Client) error { return nil })
	assert.ErrorIs(t, err, base.ErrSessionBusy)

	err = session.Select(ctx, "Archive")
	assert.ErrorIs(t, err, base.ErrSessionBusy)

	_, err = session.AcquireWatch()
	assert.ErrorIs(t, err, base.ErrSessionBusy)

	// The grant holder still reaches the wire.
	require.NoError(t, grant.Execute(ctx, func(*giimapclient.Client) error { return nil }))

	grant.Release()
	grant.Release()

	require.NoError(t, session.Select(ctx, "Archive"))
}

func TestCloseFailsWhileWatchHeld(t *testing.T) {
	session, _ := setupSession(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.Select(ctx, "INBOX"))

	grant, err := session.AcquireWatch()
	require.NoError(t, err)

	err = session.Close()
	assert.ErrorIs(t, err, base.ErrSessionBusy)

	// The connection survives; the grant still reaches the wire.
	assert.Equal(t, base.StateSelected, session.State())
	require.NoError(t, grant.Execute(ctx, func(*giimapclient.Client) error { return nil }))

	grant.Release()
	require.NoError(t, session.Close())
	assert.Equal(t, base.StateUnauthenticated, session.State())
}

func TestAcquireWatchRequiresSelectedFolder(t *testing.T) {
	session, _ := setupSession(t, nil, nil)
	ctx := context.Background()

	_, err := session.AcquireWatch()
	assert.ErrorIs(t, err, base.ErrNotAuthenticated)

	require.NoError(t, session.Connect(ctx))
	_, err = session.AcquireWatch()
	assert.ErrorIs(t, err, base.ErrNoFolderSelected)
}

func TestCloseResetsSession(t *testing.T) {
	session, _ := setupSession(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, session.Connect(ctx))
	require.NoError(t, session.Select(ctx, "INBOX"))
	require.NoError(t, session.Close())

	assert.Equal(t, base.StateUnauthenticated, session.State())
	assert.Empty(t, session.SelectedFolder())

	err := session.Execute(ctx, func(*giimapclient.Client) error { return nil })
	assert.ErrorIs(t, err, base.ErrNotAuthenticated)
}
