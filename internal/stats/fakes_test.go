package stats

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmgilman/go/errors"
)

type fakePage struct {
	etag  string
	repos []RepoRecord
}

type fetchCall struct {
	page int
	etag string
}

// fakeSource mimics the GitHub listing: a 304 when the presented etag matches, Link
// style pagination on every response that is not the last page.
type fakeSource struct {
	mu        sync.Mutex
	pages     []fakePage
	missing   bool
	failPage  int
	languages map[string][]LanguageStat
	failLangs map[string]bool
	calls     []fetchCall
	langCalls int

	// bareNotModified drops the pagination links from 304 responses; noLastLink
	// announces a next page without saying which page is the last.
	bareNotModified bool
	noLastLink      bool

	// gate, when set, holds every listing call until it is closed or the call's
	// context ends. started receives once the first call is held.
	gate    chan struct{}
	started chan struct{}
}

func newFakeSource(pages ...fakePage) *fakeSource {
	return &fakeSource{
		pages:     pages,
		languages: make(map[string][]LanguageStat),
		failLangs: make(map[string]bool),
	}
}

func (f *fakeSource) setPages(pages ...fakePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = pages
}

func (f *fakeSource) ListPage(ctx context.Context, username string, page int, etag string) (PageResult, error) {
	if f.gate != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}

		select {
		case <-ctx.Done():
			return PageResult{}, ctx.Err()
		case <-f.gate:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fetchCall{page: page, etag: etag})

	if f.missing {
		return PageResult{}, errors.Newf(errors.CodeNotFound, "user %s not found", username)
	}
	if f.failPage == page {
		return PageResult{}, errors.New(errors.CodeNetwork, "connection reset")
	}

	total := len(f.pages)
	hasNext := page < total
	lastPage := 0
	if hasNext {
		lastPage = total
	}

	if page > total {
		return PageResult{Status: PageFresh, ETag: fmt.Sprintf("empty-%d", page), Repos: []RepoRecord{}}, nil
	}

	current := f.pages[page-1]
	if etag != "" && etag == current.etag {
		if f.bareNotModified {
			return PageResult{Status: PageNotModified, ETag: etag}, nil
		}
		return PageResult{Status: PageNotModified, ETag: etag, HasNext: hasNext, LastPage: lastPage}, nil
	}

	if !hasNext {
		lastPage = page
	} else if f.noLastLink {
		lastPage = 0
	}

	repos := make([]RepoRecord, len(current.repos))
	copy(repos, current.repos)

	return PageResult{
		Status:   PageFresh,
		Repos:    repos,
		ETag:     current.etag,
		HasNext:  hasNext,
		LastPage: lastPage,
	}, nil
}

func (f *fakeSource) Languages(_ context.Context, languagesURL string) ([]LanguageStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.langCalls++
	if f.failLangs[languagesURL] {
		return nil, errors.New(errors.CodeNetwork, "languages unavailable")
	}
	return f.languages[languagesURL], nil
}

func (f *fakeSource) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.langCalls = 0
}

func (f *fakeSource) fetchCalls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]fetchCall, len(f.calls))
	copy(calls, f.calls)
	return calls
}

type fakeStore struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	commits   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string]Snapshot)}
}

func (s *fakeStore) PageList(_ context.Context, key Key) ([]PageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := s.snapshots[key.String()].Pages
	out := make([]PageEntry, len(pages))
	copy(out, pages)
	return out, nil
}

func (s *fakeStore) PageData(_ context.Context, key Key, etag string) ([]RepoRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[key.String()]
	if !ok {
		return nil, false, nil
	}
	repos, ok := snapshot.Data[etag]
	return repos, ok, nil
}

func (s *fakeStore) Aggregate(_ context.Context, key Key) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[key.String()]
	if !ok {
		return nil, nil
	}
	result := snapshot.Result
	return &result, nil
}

func (s *fakeStore) Commit(_ context.Context, key Key, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key.String()] = snapshot
	s.commits++
	return nil
}

func (s *fakeStore) snapshot(key Key) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[key.String()]
}

func (s *fakeStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func repo(name string, stars, forks, size int) RepoRecord {
	return RepoRecord{
		Name:         name,
		Stars:        stars,
		Forks:        forks,
		SizeKB:       size,
		LanguagesURL: "https://api.github.com/repos/octocat/" + name + "/languages",
	}
}
