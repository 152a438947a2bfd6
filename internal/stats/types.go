package stats

import (
	"context"
	"strings"

	"github.com/jmgilman/go/errors"
)

type ForkFilter int

const (
	IncludeForks ForkFilter = iota
	ExcludeForks
)

func (f ForkFilter) String() string {
	if f == ExcludeForks {
		return "noforks"
	}
	return "all"
}

// ParseForkFlag maps the "fork" query flag onto a filter. An empty flag keeps forks.
func ParseForkFlag(flag string) (ForkFilter, error) {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "", "true", "1", "yes":
		return IncludeForks, nil
	case "false", "0", "no":
		return ExcludeForks, nil
	}

	return IncludeForks, errors.Newf(errors.CodeInvalidInput, "invalid fork flag %q", flag)
}

// Key identifies the cached state of one query. GitHub logins are case-insensitive,
// so the username is folded before it becomes part of the key.
type Key struct {
	Username string
	Filter   ForkFilter
}

func NewKey(username string, filter ForkFilter) Key {
	return Key{Username: username, Filter: filter}
}

func (k Key) String() string {
	return "stats:" + strings.ToLower(k.Username) + ":" + k.Filter.String()
}

type PageEntry struct {
	Page int    `json:"page"`
	ETag string `json:"etag"`
}

// RepoRecord holds the fields of a repository that contribute to the aggregate.
type RepoRecord struct {
	Name         string `json:"name"`
	Fork         bool   `json:"fork"`
	Stars        int    `json:"stars"`
	Forks        int    `json:"forks"`
	SizeKB       int    `json:"sizeKb"`
	LanguagesURL string `json:"languagesUrl"`
}

type LanguageStat struct {
	Name  string `json:"name"`
	Bytes int    `json:"byteCount"`
}

type Result struct {
	RepoCount        int            `json:"repoCount"`
	StarTotal        int            `json:"starTotal"`
	ForkTotal        int            `json:"forkTotal"`
	AvgRepoSize      string         `json:"avgRepoSize"`
	Languages        []LanguageStat `json:"languages"`
	LanguageFailures int            `json:"languageFailures,omitempty"`
}

// Snapshot is everything a refresh writes for one key. Stores replace the previous
// snapshot as a whole.
type Snapshot struct {
	Pages  []PageEntry
	Data   map[string][]RepoRecord
	Result Result
}

type PageStatus int

const (
	PageFresh PageStatus = iota
	PageNotModified
)

func (s PageStatus) String() string {
	if s == PageNotModified {
		return "not_modified"
	}
	return "fresh"
}

// PageResult is the outcome of a conditional page fetch. Repos is empty for
// PageNotModified. LastPage is 0 when the response carried no usable pagination links.
type PageResult struct {
	Status   PageStatus
	Repos    []RepoRecord
	ETag     string
	HasNext  bool
	LastPage int
}

type State string

const (
	StateNoCacheEntry  State = "no_cache_entry"
	StateRevalidating  State = "revalidating"
	StateFetchingGrown State = "fetching_grown"
	StateEntirelyFresh State = "entirely_fresh"
	StateRefreshed     State = "refreshed"
)

type Outcome struct {
	Result       Result
	State        State
	PagesFetched int
}

// Source is the upstream collection of a user's repositories.
type Source interface {
	ListPage(ctx context.Context, username string, page int, etag string) (PageResult, error)
	Languages(ctx context.Context, languagesURL string) ([]LanguageStat, error)
}

// Store persists the page list, the etag to page data mapping and the aggregate of a key.
type Store interface {
	PageList(ctx context.Context, key Key) ([]PageEntry, error)
	PageData(ctx context.Context, key Key, etag string) ([]RepoRecord, bool, error)
	Aggregate(ctx context.Context, key Key) (*Result, error)
	Commit(ctx context.Context, key Key, snapshot Snapshot) error
}
