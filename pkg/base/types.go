package base

import (
	"github.com/emersion/go-imap/v2"
)

// MessageID identifies a message within the currently selected folder. It is
// the protocol UID, stable only for the lifetime of that folder selection.
type MessageID uint32

// Address is a parsed mailbox address. Name is the display name and is empty,
// never absent, when the header carries no display name.
type Address struct {
	Name string
	Addr string
}

// Folder is a listed mailbox together with its LIST attributes.
type Folder struct {
	Name  string
	Attrs []imap.MailboxAttr
}

// HasAttr reports whether the folder carries the given LIST attribute.
func (f Folder) HasAttr(attr imap.MailboxAttr) bool {
	for _, a := range f.Attrs {
		if a == attr {
			return true
		}
	}
	return false
}

// SessionState is the authentication state of a mailbox session.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateSelected
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	default:
		return "unauthenticated"
	}
}
