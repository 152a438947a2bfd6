package github

import (
	"github.com/glup3/ghstats/internal/stats"
	gh "github.com/google/go-github/v67/github"
)

func MapRepo(repo *gh.Repository) stats.RepoRecord {
	return stats.RepoRecord{
		Name:         repo.GetFullName(),
		Fork:         repo.GetFork(),
		Stars:        repo.GetStargazersCount(),
		Forks:        repo.GetForksCount(),
		SizeKB:       repo.GetSize(),
		LanguagesURL: repo.GetLanguagesURL(),
	}
}

func MapRepos(repos []*gh.Repository) []stats.RepoRecord {
	records := make([]stats.RepoRecord, 0, len(repos))
	for _, repo := range repos {
		if repo == nil {
			continue
		}
		records = append(records, MapRepo(repo))
	}
	return records
}
