package searches

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikatson/betterimap/pkg/base"
)

func TestBuildSearchCriteriaExactDate(t *testing.T) {
	day := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	query, err := buildSearchCriteria(Criteria{ExactDate: day})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), query.Since)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), query.Before)
}

func TestBuildSearchCriteriaNormalizesDates(t *testing.T) {
	query, err := buildSearchCriteria(Criteria{
		Since:  time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC),
		Before: time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), query.Since)
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), query.Before)
}

func TestBuildSearchCriteriaHeaders(t *testing.T) {
	query, err := buildSearchCriteria(Criteria{
		Subject: "invoice",
		Sender:  "billing@example.com",
	})
	require.NoError(t, err)

	require.Len(t, query.Header, 2)
	assert.Equal(t, imap.SearchCriteriaHeaderField{Key: "Subject", Value: "invoice"}, query.Header[0])
	assert.Equal(t, imap.SearchCriteriaHeaderField{Key: "From", Value: "billing@example.com"}, query.Header[1])
}

func TestBuildSearchCriteriaRecipientMatchesToOrCc(t *testing.T) {
	query, err := buildSearchCriteria(Criteria{Recipient: "me@example.com"})
	require.NoError(t, err)

	require.Len(t, query.Or, 1)
	assert.Equal(t, "To", query.Or[0][0].Header[0].Key)
	assert.Equal(t, "Cc", query.Or[0][1].Header[0].Key)
	assert.Equal(t, "me@example.com", query.Or[0][0].Header[0].Value)
}

func TestBuildSearchCriteriaFlags(t *testing.T) {
	query, err := buildSearchCriteria(Criteria{Flags: []string{"seen", "\\Flagged", "important"}})
	require.NoError(t, err)

	assert.Equal(t, []imap.Flag{imap.FlagSeen, imap.FlagFlagged, "important"}, query.Flag)
}

func TestValidateRejectsExactDateWithRange(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, criteria := range []Criteria{
		{ExactDate: day, Since: day.AddDate(0, 0, -1)},
		{ExactDate: day, Before: day.AddDate(0, 0, 1)},
	} {
		_, err := buildSearchCriteria(criteria)
		var invalid *base.InvalidCriteriaError
		assert.ErrorAs(t, err, &invalid)
	}
}

func TestValidateRejectsInvertedRange(t *testing.T) {
	_, err := buildSearchCriteria(Criteria{
		Since:  time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
		Before: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	var invalid *base.InvalidCriteriaError
	assert.ErrorAs(t, err, &invalid)
}

func TestValidateRejectsNegativeLimit(t *testing.T) {
	_, err := buildSearchCriteria(Criteria{Limit: -1})
	var invalid *base.InvalidCriteriaError
	assert.ErrorAs(t, err, &invalid)
}

func TestTailKeepsMostRecent(t *testing.T) {
	ids := []base.MessageID{1, 2, 3, 4, 5}

	assert.Equal(t, []base.MessageID{3, 4, 5}, tail(ids, 3))
	assert.Equal(t, ids, tail(ids, 0))
	assert.Equal(t, ids, tail(ids, 10))
}
