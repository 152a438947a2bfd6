package jobs

import (
	"github.com/glup3/ghstats/internal/stats"
	"github.com/jmgilman/go/errors"
)

type Summary struct {
	Total    int
	Failed   int
	NotFound int
	ByState  map[stats.State]int
}

func summarize(results []warmResult) Summary {
	summary := Summary{
		Total:   len(results),
		ByState: make(map[stats.State]int),
	}

	for _, result := range results {
		switch {
		case result.err == nil:
			summary.ByState[result.outcome.State]++
		case errors.GetCode(result.err) == errors.CodeNotFound:
			summary.NotFound++
		default:
			summary.Failed++
		}
	}

	return summary
}

// KeysFor builds one key per distinct username, keeping the input order.
func KeysFor(usernames []string, filter stats.ForkFilter) []stats.Key {
	seen := make(map[string]bool)
	var keys []stats.Key

	for _, username := range usernames {
		key := stats.NewKey(username, filter)
		if username == "" || seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		keys = append(keys, key)
	}

	return keys
}
