package stats

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// LanguageTable accumulates byte counts per language and remembers the order in
// which languages were first seen.
type LanguageTable struct {
	index map[string]int
	stats []LanguageStat
}

func NewLanguageTable() *LanguageTable {
	return &LanguageTable{index: make(map[string]int)}
}

func (t *LanguageTable) Add(name string, bytes int) {
	if i, ok := t.index[name]; ok {
		t.stats[i].Bytes += bytes
		return
	}

	t.index[name] = len(t.stats)
	t.stats = append(t.stats, LanguageStat{Name: name, Bytes: bytes})
}

func (t *LanguageTable) Merge(other *LanguageTable) {
	if other == nil {
		return
	}
	for _, stat := range other.stats {
		t.Add(stat.Name, stat.Bytes)
	}
}

func (t *LanguageTable) Len() int {
	return len(t.stats)
}

// Sorted returns the languages by descending byte count. Ties keep first-seen order.
func (t *LanguageTable) Sorted() []LanguageStat {
	sorted := make([]LanguageStat, len(t.stats))
	copy(sorted, t.stats)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bytes > sorted[j].Bytes
	})

	return sorted
}

type Totals struct {
	RepoCount        int
	StarTotal        int
	ForkTotal        int
	SizeKB           int
	Languages        *LanguageTable
	LanguageFailures int
}

func NewTotals() Totals {
	return Totals{Languages: NewLanguageTable()}
}

func (t *Totals) Merge(other Totals) {
	t.RepoCount += other.RepoCount
	t.StarTotal += other.StarTotal
	t.ForkTotal += other.ForkTotal
	t.SizeKB += other.SizeKB
	t.LanguageFailures += other.LanguageFailures

	if t.Languages == nil {
		t.Languages = NewLanguageTable()
	}
	t.Languages.Merge(other.Languages)
}

func (t Totals) Result() Result {
	languages := []LanguageStat{}
	if t.Languages != nil {
		languages = t.Languages.Sorted()
	}

	return Result{
		RepoCount:        t.RepoCount,
		StarTotal:        t.StarTotal,
		ForkTotal:        t.ForkTotal,
		AvgRepoSize:      FormatSize(t.SizeKB, t.RepoCount),
		Languages:        languages,
		LanguageFailures: t.LanguageFailures,
	}
}

type LanguageResolver interface {
	Languages(ctx context.Context, languagesURL string) ([]LanguageStat, error)
}

type Aggregator struct {
	resolver    LanguageResolver
	concurrency int
}

func NewAggregator(resolver LanguageResolver, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Aggregator{
		resolver:    resolver,
		concurrency: concurrency,
	}
}

type languageLookup struct {
	stats  []LanguageStat
	failed bool
}

// Aggregate folds every record of every page into one Totals. Language lookups run
// concurrently but are merged in record order. A failed lookup only drops that
// repository's languages; the only error returned is the context's.
func (a *Aggregator) Aggregate(ctx context.Context, pages [][]RepoRecord, filter ForkFilter) (Totals, error) {
	var records []RepoRecord
	for _, page := range pages {
		for _, record := range page {
			if filter == ExcludeForks && record.Fork {
				continue
			}
			records = append(records, record)
		}
	}

	lookups := make([]languageLookup, len(records))

	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)

	for i, record := range records {
		if record.LanguagesURL == "" || a.resolver == nil {
			continue
		}

		g.Go(func() error {
			languages, err := a.resolver.Languages(ctx, record.LanguagesURL)
			if err != nil {
				log.Warn().
					Err(err).
					Str("repository", record.Name).
					Msg("language lookup failed - skipping languages of repository")
				lookups[i] = languageLookup{failed: true}
				return nil
			}
			lookups[i] = languageLookup{stats: languages}
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Totals{}, err
	}

	totals := NewTotals()
	for i, record := range records {
		totals.RepoCount++
		totals.StarTotal += record.Stars
		totals.ForkTotal += record.Forks
		totals.SizeKB += record.SizeKB

		if lookups[i].failed {
			totals.LanguageFailures++
			continue
		}
		for _, stat := range lookups[i].stats {
			totals.Languages.Add(stat.Name, stat.Bytes)
		}
	}

	return totals, nil
}
