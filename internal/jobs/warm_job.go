package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/glup3/ghstats/internal/stats"
	"github.com/rs/zerolog/log"
)

type Refresher interface {
	Stats(ctx context.Context, key stats.Key) (*stats.Outcome, error)
}

type WarmJob struct {
	service     Refresher
	concurrency int
}

type warmResult struct {
	key     stats.Key
	outcome *stats.Outcome
	err     error
}

func NewWarmJob(service Refresher, concurrency int) *WarmJob {
	if concurrency < 1 {
		concurrency = 1
	}
	return &WarmJob{service: service, concurrency: concurrency}
}

// Run refreshes every key with at most concurrency requests in flight. Keys not started
// before ctx is cancelled are reported as failed.
func (job *WarmJob) Run(ctx context.Context, keys []stats.Key) Summary {
	start := time.Now()
	results := make([]warmResult, len(keys))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, job.concurrency)

	for i, key := range keys {
		results[i].key = key

		if err := ctx.Err(); err != nil {
			results[i].err = err
			continue
		}

		select {
		case <-ctx.Done():
			results[i].err = ctx.Err()
			continue
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, key stats.Key) {
			defer wg.Done()
			defer func() { <-semaphore }()

			outcome, err := job.service.Stats(ctx, key)
			results[i].outcome = outcome
			results[i].err = err

			if err != nil {
				log.Error().Err(err).Str("key", key.String()).Msg("warming failed")
				return
			}

			log.Info().
				Str("key", key.String()).
				Str("state", string(outcome.State)).
				Int("fetched", outcome.PagesFetched).
				Int("repos", outcome.Result.RepoCount).
				Msg("warmed")
		}(i, key)
	}

	wg.Wait()

	summary := summarize(results)
	log.Info().
		Int("total", summary.Total).
		Int("failed", summary.Failed).
		Int("notFound", summary.NotFound).
		Msgf("warming took %s", time.Since(start))

	return summary
}
