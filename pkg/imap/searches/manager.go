// Package searches translates structured criteria into the protocol's query
// grammar and runs UID searches on a session.
package searches

import (
	"context"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	giimapclient "github.com/emersion/go-imap/v2/imapclient"

	"github.com/ikatson/betterimap/pkg/base"
)

// Criteria is a conjunction of optional search fields. ExactDate is mutually
// exclusive with Since/Before; supplying both is a caller error.
type Criteria struct {
	Subject   string
	Sender    string
	Recipient string
	ExactDate time.Time
	Since     time.Time
	Before    time.Time
	Flags     []string

	// Limit bounds the result to the most recent Limit matches (the tail of
	// the server's ordering). Zero means unbounded.
	Limit int
}

// Executor runs one serialized exchange on a transport.
type Executor interface {
	Execute(ctx context.Context, fn func(client *giimapclient.Client) error) error
}

// SessionExecutor additionally reports the session state.
type SessionExecutor interface {
	Executor
	State() base.SessionState
}

type Manager struct {
	session SessionExecutor
}

func New(session SessionExecutor) *Manager {
	return &Manager{session: session}
}

// Search returns the identifiers matching criteria, in the order the server
// reports them, truncated to the most recent Limit when one is set. Empty
// criteria match the whole folder.
func (m *Manager) Search(ctx context.Context, criteria Criteria) ([]base.MessageID, error) {
	if m.session.State() != base.StateSelected {
		return nil, base.ErrNoFolderSelected
	}
	query, err := buildSearchCriteria(criteria)
	if err != nil {
		return nil, err
	}

	var ids []base.MessageID
	err = m.session.Execute(ctx, func(client *giimapclient.Client) error {
		data, err := client.UIDSearch(query, nil).Wait()
		if err != nil {
			return err
		}
		uids := data.AllUIDs()
		ids = make([]base.MessageID, 0, len(uids))
		for _, uid := range uids {
			ids = append(ids, base.MessageID(uid))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tail(ids, criteria.Limit), nil
}

// NewerThan returns the identifiers with UIDs above lastUID, used by watchers
// to pick up messages announced during an idle wait.
func NewerThan(ctx context.Context, exec Executor, lastUID uint32) ([]base.MessageID, error) {
	var uidSet imap.UIDSet
	uidSet.AddRange(imap.UID(lastUID+1), 0)
	query := &imap.SearchCriteria{
		UID: []imap.UIDSet{uidSet},
	}

	var ids []base.MessageID
	err := exec.Execute(ctx, func(client *giimapclient.Client) error {
		data, err := client.UIDSearch(query, nil).Wait()
		if err != nil {
			return err
		}
		for _, uid := range data.AllUIDs() {
			ids = append(ids, base.MessageID(uid))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func buildSearchCriteria(c Criteria) (*imap.SearchCriteria, error) {
	if err := validate(c); err != nil {
		return nil, err
	}

	query := &imap.SearchCriteria{}

	since, before := c.Since, c.Before
	if !c.ExactDate.IsZero() {
		since = dayStart(c.ExactDate)
		before = since.AddDate(0, 0, 1)
	}
	if !since.IsZero() {
		query.Since = dayStart(since)
	}
	if !before.IsZero() {
		query.Before = dayStart(before)
	}

	if strings.TrimSpace(c.Subject) != "" {
		query.And(&imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{
				Key:   "Subject",
				Value: c.Subject,
			}},
		})
	}
	if strings.TrimSpace(c.Sender) != "" {
		query.And(&imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{
				Key:   "From",
				Value: c.Sender,
			}},
		})
	}
	if strings.TrimSpace(c.Recipient) != "" {
		to := imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{
				Key:   "To",
				Value: c.Recipient,
			}},
		}
		cc := imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{
				Key:   "Cc",
				Value: c.Recipient,
			}},
		}
		query.And(&imap.SearchCriteria{
			Or: [][2]imap.SearchCriteria{{to, cc}},
		})
	}
	for _, name := range c.Flags {
		if strings.TrimSpace(name) == "" {
			continue
		}
		query.Flag = append(query.Flag, flagFromName(name))
	}

	return query, nil
}

func validate(c Criteria) error {
	if !c.ExactDate.IsZero() && (!c.Since.IsZero() || !c.Before.IsZero()) {
		return &base.InvalidCriteriaError{Reason: "exact date cannot be combined with since/before"}
	}
	if !c.Since.IsZero() && !c.Before.IsZero() && !dayStart(c.Before).After(dayStart(c.Since)) {
		return &base.InvalidCriteriaError{Reason: "before must be after since"}
	}
	if c.Limit < 0 {
		return &base.InvalidCriteriaError{Reason: "limit must not be negative"}
	}
	return nil
}

// Date comparisons use the provider's date-only granularity.
func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func flagFromName(name string) imap.Flag {
	trimmed := strings.TrimSpace(name)
	if strings.HasPrefix(trimmed, "\\") {
		return imap.Flag(trimmed)
	}
	switch strings.ToLower(trimmed) {
	case "seen":
		return imap.FlagSeen
	case "answered":
		return imap.FlagAnswered
	case "flagged":
		return imap.FlagFlagged
	case "deleted":
		return imap.FlagDeleted
	case "draft":
		return imap.FlagDraft
	default:
		// Keyword flags have no backslash prefix.
		return imap.Flag(trimmed)
	}
}

func tail(ids []base.MessageID, limit int) []base.MessageID {
	if limit > 0 && len(ids) > limit {
		return ids[len(ids)-limit:]
	}
	return ids
}
