package matching

import "github.com/Ramsey-B/sage/pkg/models"

// GroupByPosting groups matches that share a posting for display. Groups appear in the order
// their first match appears; each group keeps its own copies of the matches, so acting on one
// never affects a sibling.
func GroupByPosting(matches []models.Match) []models.PostingGroup {
	groups := []models.PostingGroup{}
	index := map[string]int{}

	for _, m := range matches {
		i, ok := index[m.PostingID]
		if !ok {
			i = len(groups)
			index[m.PostingID] = i
			groups = append(groups, models.PostingGroup{PostingID: m.PostingID})
		}
		groups[i].Matches = append(groups[i].Matches, m)
		groups[i].MatchCount++
	}

	return groups
}
