package base

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionBusy is returned when an exclusive operation is attempted
	// while a watcher owns the transport.
	ErrSessionBusy = errors.New("session is busy with an active watch")

	// ErrNotAuthenticated is returned when an operation requires an
	// authenticated session.
	ErrNotAuthenticated = errors.New("session is not authenticated")

	// ErrNoFolderSelected is returned when an operation requires a selected
	// folder.
	ErrNoFolderSelected = errors.New("no folder is selected")
)

// ConnectionError means the transport was lost or unreachable. The session is
// invalidated and the caller must re-authenticate.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError means credentials were rejected, or an expired OAuth2 token could
// not be refreshed.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RefreshError means the OAuth2 token-endpoint exchange failed. The prior
// token state is preserved.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// FolderError means a folder could not be selected or does not exist.
type FolderError struct {
	Folder string
	Err    error
}

func (e *FolderError) Error() string {
	return fmt.Sprintf("folder %q: %v", e.Folder, e.Err)
}

func (e *FolderError) Unwrap() error { return e.Err }

// InvalidCriteriaError means contradictory search criteria were supplied.
type InvalidCriteriaError struct {
	Reason string
}

func (e *InvalidCriteriaError) Error() string {
	return fmt.Sprintf("invalid search criteria: %s", e.Reason)
}
