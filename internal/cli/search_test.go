package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriteriaFromFlags(t *testing.T) {
	searchFlags.subject = "invoice"
	searchFlags.sender = "billing@example.com"
	searchFlags.recipient = ""
	searchFlags.since = "2024-03-01"
	searchFlags.before = "2024-03-15"
	searchFlags.exactDate = ""
	searchFlags.flags = []string{"seen"}
	searchFlags.limit = 5
	t.Cleanup(func() {
		searchFlags.subject, searchFlags.sender = "", ""
		searchFlags.since, searchFlags.before = "", ""
		searchFlags.flags = nil
		searchFlags.limit = 0
	})

	criteria, err := criteriaFromFlags()
	require.NoError(t, err)

	assert.Equal(t, "invoice", criteria.Subject)
	assert.Equal(t, "billing@example.com", criteria.Sender)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), criteria.Since)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), criteria.Before)
	assert.True(t, criteria.ExactDate.IsZero())
	assert.Equal(t, []string{"seen"}, criteria.Flags)
	assert.Equal(t, 5, criteria.Limit)
}

func TestCriteriaFromFlagsRejectsBadDate(t *testing.T) {
	searchFlags.since = "March 1st"
	t.Cleanup(func() { searchFlags.since = "" })

	_, err := criteriaFromFlags()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since")
}
