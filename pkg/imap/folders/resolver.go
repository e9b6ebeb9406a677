// Package folders resolves well-known mailboxes (inbox, sent, trash) from a
// folder listing by special-use attributes and common name aliases.
package folders

import (
	"regexp"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/ikatson/betterimap/pkg/base"
)

var (
	inboxAliases = []string{"INBOX", "Входящие"}
	sentAliases  = []string{"Sent", "Sent Items", "Sent Messages", "Отправленные"}
	trashAliases = []string{"Trash", "Deleted", "Deleted Items", "Корзина"}
)

// Inbox resolves the inbox folder from a listing. The match is a
// case-insensitive alias comparison, preferring an exact name over a suffix
// match (so "INBOX" beats "INBOX.Spam"). This is a best-effort convenience,
// not a protocol guarantee: when nothing matches, the first listed folder is
// returned as a non-authoritative fallback.
func Inbox(list []base.Folder) (base.Folder, bool) {
	if exact, ok := matchAliases(list, inboxAliases, true); ok {
		return exact, true
	}
	if loose, ok := matchAliases(list, inboxAliases, false); ok {
		return loose, true
	}
	if len(list) > 0 {
		return list[0], false
	}
	return base.Folder{}, false
}

// Sent resolves the sent folder by the \Sent special-use attribute, falling
// back to name aliases.
func Sent(list []base.Folder) (base.Folder, bool) {
	return specialUse(list, imap.MailboxAttrSent, sentAliases)
}

// Trash resolves the trash folder by the \Trash special-use attribute,
// falling back to name aliases.
func Trash(list []base.Folder) (base.Folder, bool) {
	return specialUse(list, imap.MailboxAttrTrash, trashAliases)
}

// Search returns the folders whose names match the regular expression, in
// listing order. The pattern is unanchored.
func Search(list []base.Folder, pattern string) ([]base.Folder, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var matched []base.Folder
	for _, f := range list {
		if re.MatchString(f.Name) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

func specialUse(list []base.Folder, attr imap.MailboxAttr, aliases []string) (base.Folder, bool) {
	for _, f := range list {
		if f.HasAttr(attr) {
			return f, true
		}
	}
	if exact, ok := matchAliases(list, aliases, true); ok {
		return exact, true
	}
	return matchAliases(list, aliases, false)
}

func matchAliases(list []base.Folder, aliases []string, exact bool) (base.Folder, bool) {
	for _, f := range list {
		name := strings.ToLower(f.Name)
		for _, alias := range aliases {
			alias = strings.ToLower(alias)
			if exact {
				if name == alias {
					return f, true
				}
				continue
			}
			// Loose match: folder named like "INBOX.Sent" or "[Gmail]/Trash".
			if strings.HasSuffix(name, alias) || strings.Contains(name, alias) {
				return f, true
			}
		}
	}
	return base.Folder{}, false
}
