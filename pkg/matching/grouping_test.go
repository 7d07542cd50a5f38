package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/models"
)

func TestGroupByPosting(t *testing.T) {
	matches := []models.Match{
		{ID: "m1", PostingID: "p1", Status: models.MatchStatusUnreviewed},
		{ID: "m2", PostingID: "p2", Status: models.MatchStatusBid},
		{ID: "m3", PostingID: "p1", Status: models.MatchStatusWaitlist},
	}

	groups := GroupByPosting(matches)
	require.Len(t, groups, 2)

	assert.Equal(t, "p1", groups[0].PostingID)
	assert.Equal(t, 2, groups[0].MatchCount)
	assert.Equal(t, []string{"m1", "m3"}, []string{groups[0].Matches[0].ID, groups[0].Matches[1].ID})
	assert.Equal(t, "p2", groups[1].PostingID)
	assert.Equal(t, 1, groups[1].MatchCount)

	// members stay independent of each other and of the input
	groups[0].Matches[0].Status = models.MatchStatusSkipped
	assert.Equal(t, models.MatchStatusWaitlist, groups[0].Matches[1].Status)
	assert.Equal(t, models.MatchStatusUnreviewed, matches[0].Status)
}

func TestGroupByPosting_Empty(t *testing.T) {
	assert.Empty(t, GroupByPosting(nil))
}
