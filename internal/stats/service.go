package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultConcurrency    = 8
	defaultRefreshTimeout = 2 * time.Minute
)

// Observer receives pipeline events. metrics.Metrics implements it.
type Observer interface {
	ObservePage(status string)
	ObserveRefresh(state string, elapsed time.Duration)
	ObserveLanguageFailures(n int)
}

type noopObserver struct{}

func (noopObserver) ObservePage(string)                   {}
func (noopObserver) ObserveRefresh(string, time.Duration) {}
func (noopObserver) ObserveLanguageFailures(int)          {}

type Option func(*Service)

func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRefreshTimeout bounds one shared refresh. The refresh runs detached from the
// callers' contexts, so this is the only thing that stops it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Service) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// Service answers aggregated statistics queries. Cached pages are revalidated with
// their etags, only changed or new pages are downloaded, and the store is written
// only when something changed.
type Service struct {
	source         Source
	store          Store
	aggregator     *Aggregator
	observer       Observer
	concurrency    int
	refreshTimeout time.Duration
	flight         singleflight.Group
}

func NewService(source Source, store Store, opts ...Option) *Service {
	s := &Service{
		source:         source,
		store:          store,
		observer:       noopObserver{},
		concurrency:    defaultConcurrency,
		refreshTimeout: defaultRefreshTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.aggregator = NewAggregator(source, s.concurrency)

	return s
}

// Stats returns the aggregate for key. Concurrent calls for the same key share one
// refresh; a caller that goes away stops waiting but does not abort it for the others.
func (s *Service) Stats(ctx context.Context, key Key) (*Outcome, error) {
	ch := s.flight.DoChan(key.String(), func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()

		return s.refresh(refreshCtx, key)
	})

	select {
	case <-ctx.Done():
		return nil, WrapContextError(ctx.Err(), "stopped waiting for refresh")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		outcome := *res.Val.(*Outcome)
		return &outcome, nil
	}
}

// pass is the working copy of one refresh.
type pass struct {
	entries []PageEntry
	data    map[string][]RepoRecord
	fresh   bool
	fetched int
	state   State
}

func newPass(state State) *pass {
	return &pass{
		data:  make(map[string][]RepoRecord),
		fresh: true,
		state: state,
	}
}

func (p *pass) put(page int, result PageResult) {
	tag := result.ETag
	if tag == "" {
		tag = fmt.Sprintf("page-%d", page)
	}

	p.entries = append(p.entries, PageEntry{Page: page, ETag: tag})
	p.data[tag] = result.Repos

	if result.Status == PageFresh {
		p.fresh = false
		p.fetched++
	}
}

func (s *Service) refresh(ctx context.Context, key Key) (*Outcome, error) {
	start := time.Now()
	logger := log.With().Str("key", key.String()).Logger()

	cached, err := s.store.PageList(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to read cached page list")
	}

	var p *pass
	if len(cached) == 0 {
		p, err = s.fetchAll(ctx, key)
	} else {
		p, err = s.revalidate(ctx, key, cached, logger)
	}
	if err != nil {
		if ctx.Err() != nil && errors.GetCode(err) == errors.CodeUnknown {
			return nil, WrapContextError(ctx.Err(), "refresh abandoned")
		}
		if errors.GetCode(err) == errors.CodeNotFound {
			logger.Info().Str("username", key.Username).Msg("user not found upstream")
		}
		return nil, err
	}

	if p.fresh {
		stored, err := s.store.Aggregate(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "failed to read cached aggregate")
		}

		switch {
		case stored == nil:
			logger.Warn().Msg("pages unchanged but aggregate missing - re-aggregating")
		case stored.LanguageFailures > 0:
			logger.Info().
				Int("languageFailures", stored.LanguageFailures).
				Msg("pages unchanged but languages incomplete - re-aggregating")
		default:
			s.observer.ObserveRefresh(string(StateEntirelyFresh), time.Since(start))
			logger.Debug().Int("pages", len(p.entries)).Msg("cache entirely fresh")

			return &Outcome{Result: *stored, State: StateEntirelyFresh}, nil
		}
	}

	pages := make([][]RepoRecord, len(p.entries))
	for i, entry := range p.entries {
		pages[i] = p.data[entry.ETag]
	}

	totals, err := s.aggregator.Aggregate(ctx, pages, key.Filter)
	if err != nil {
		return nil, WrapContextError(err, "aggregation aborted")
	}
	if totals.LanguageFailures > 0 {
		s.observer.ObserveLanguageFailures(totals.LanguageFailures)
	}

	result := totals.Result()
	snapshot := Snapshot{
		Pages:  p.entries,
		Data:   p.data,
		Result: result,
	}

	if err := s.store.Commit(ctx, key, snapshot); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to commit cache")
	}

	s.observer.ObserveRefresh(string(StateRefreshed), time.Since(start))
	logger.Info().
		Str("from", string(p.state)).
		Int("pages", len(p.entries)).
		Int("fetched", p.fetched).
		Int("repos", result.RepoCount).
		Int("languageFailures", result.LanguageFailures).
		Dur("took", time.Since(start)).
		Msg("cache refreshed")

	return &Outcome{Result: result, State: StateRefreshed, PagesFetched: p.fetched}, nil
}

// fetchAll loads every page without etags.
func (s *Service) fetchAll(ctx context.Context, key Key) (*pass, error) {
	p := newPass(StateNoCacheEntry)

	first, err := s.fetch(ctx, key, 1, "")
	if err != nil {
		return nil, err
	}
	p.put(1, first)

	if !first.HasNext {
		return p, nil
	}

	if first.LastPage > 1 {
		results, err := s.fetchRange(ctx, key, 2, first.LastPage)
		if err != nil {
			return nil, err
		}
		for i, result := range results {
			p.put(i+2, result)
		}
		return p, nil
	}

	// no last page in the links, walk until the upstream stops announcing a next one
	for page := 2; ; page++ {
		result, err := s.fetch(ctx, key, page, "")
		if err != nil {
			return nil, err
		}
		p.put(page, result)

		if !result.HasNext {
			return p, nil
		}
	}
}

// revalidate presents every cached etag to the upstream and reconciles page count drift.
func (s *Service) revalidate(ctx context.Context, key Key, cached []PageEntry, logger zerolog.Logger) (*pass, error) {
	sort.SliceStable(cached, func(i, j int) bool {
		return cached[i].Page < cached[j].Page
	})

	p := newPass(StateRevalidating)
	cachedCount := cached[len(cached)-1].Page

	first, err := s.revalidatePage(ctx, key, cached[0])
	if err != nil {
		return nil, err
	}
	p.put(cached[0].Page, first)

	// page 1 may come back without pagination links, most often on a 304
	linked := true
	lastPage := first.LastPage
	if lastPage == 0 {
		if first.Status == PageFresh && !first.HasNext {
			lastPage = 1
		} else {
			linked = false
			lastPage = cachedCount
		}
	}

	var rest []PageEntry
	for _, entry := range cached[1:] {
		if entry.Page <= lastPage {
			rest = append(rest, entry)
		}
	}

	results := make([]PageResult, len(rest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, entry := range rest {
		g.Go(func() error {
			result, err := s.revalidatePage(gctx, key, entry)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !linked {
		lastPage = inferLastPage(cachedCount, rest, results)
	}

	tail := first
	for i, entry := range rest {
		if entry.Page > lastPage {
			break
		}
		p.put(entry.Page, results[i])
		tail = results[i]
	}

	switch {
	case lastPage > cachedCount:
		p.state = StateFetchingGrown
		logger.Info().Int("cached", cachedCount).Int("upstream", lastPage).Msg("page count grew")

		grown, err := s.fetchRange(ctx, key, cachedCount+1, lastPage)
		if err != nil {
			return nil, err
		}
		for i, result := range grown {
			p.put(cachedCount+1+i, result)
			tail = result
		}
	case lastPage < cachedCount:
		logger.Info().Int("cached", cachedCount).Int("upstream", lastPage).Msg("page count shrank")
		p.fresh = false
	}

	if linked {
		return p, nil
	}

	// the page count was only inferred, keep walking while the upstream announces more
	for page := lastPage + 1; tail.HasNext; page++ {
		if p.state != StateFetchingGrown {
			p.state = StateFetchingGrown
			logger.Info().Int("cached", cachedCount).Int("from", page).Msg("page count grew")
		}

		result, err := s.fetch(ctx, key, page, "")
		if err != nil {
			return nil, err
		}
		p.put(page, result)
		tail = result
	}

	return p, nil
}

// inferLastPage derives the upstream page count from the revalidated pages when page 1
// carried no last-page link. The first fresh page without a next link ends the listing,
// and an empty one lies past the end. Otherwise the highest announced last page wins,
// never below the cached count.
func inferLastPage(cachedCount int, entries []PageEntry, results []PageResult) int {
	last := cachedCount
	for i, result := range results {
		if result.Status == PageFresh && !result.HasNext {
			page := entries[i].Page
			if len(result.Repos) == 0 && page > 1 {
				page--
			}
			return page
		}
		if result.LastPage > last {
			last = result.LastPage
		}
	}
	return last
}

// revalidatePage fetches one cached page with its etag and fills in the stored data
// when the upstream reports it unchanged.
func (s *Service) revalidatePage(ctx context.Context, key Key, entry PageEntry) (PageResult, error) {
	result, err := s.fetch(ctx, key, entry.Page, entry.ETag)
	if err != nil {
		return PageResult{}, err
	}

	if result.Status == PageFresh {
		return result, nil
	}

	repos, ok, err := s.store.PageData(ctx, key, entry.ETag)
	if err != nil {
		return PageResult{}, errors.Wrap(err, errors.CodeDatabase, "failed to read cached page data")
	}

	if !ok {
		log.Warn().
			Str("key", key.String()).
			Int("page", entry.Page).
			Msg("cached page data missing - refetching page")

		refetched, err := s.fetch(ctx, key, entry.Page, "")
		if err != nil {
			return PageResult{}, err
		}
		if refetched.LastPage == 0 {
			refetched.LastPage = result.LastPage
		}
		return refetched, nil
	}

	result.Repos = repos
	result.ETag = entry.ETag
	return result, nil
}

func (s *Service) fetchRange(ctx context.Context, key Key, from, to int) ([]PageResult, error) {
	results := make([]PageResult, to-from+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for page := from; page <= to; page++ {
		g.Go(func() error {
			result, err := s.fetch(gctx, key, page, "")
			if err != nil {
				return err
			}
			results[page-from] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (s *Service) fetch(ctx context.Context, key Key, page int, etag string) (PageResult, error) {
	result, err := s.source.ListPage(ctx, key.Username, page, etag)
	if err != nil {
		if errors.GetCode(err) == errors.CodeNotFound {
			s.observer.ObservePage("not_found")
		} else {
			s.observer.ObservePage("error")
		}
		return PageResult{}, err
	}

	s.observer.ObservePage(result.Status.String())
	return result, nil
}
