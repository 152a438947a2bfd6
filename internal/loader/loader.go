package loader

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glup3/ghstats/internal/stats"
	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultRetries         = 3
	defaultInitialInterval = 250 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

type Options struct {
	Timeout         time.Duration
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Loader decorates a stats.Source. Every upstream call gets its own deadline and
// retryable failures are retried with exponential backoff.
type Loader struct {
	source  stats.Source
	timeout time.Duration
	retries uint64
	initial time.Duration
	max     time.Duration
}

func NewLoader(source stats.Source, opts Options) *Loader {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.InitialInterval == 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = defaultMaxInterval
	}

	return &Loader{
		source:  source,
		timeout: opts.Timeout,
		retries: uint64(opts.Retries),
		initial: opts.InitialInterval,
		max:     opts.MaxInterval,
	}
}

func (l *Loader) ListPage(ctx context.Context, username string, page int, etag string) (stats.PageResult, error) {
	var result stats.PageResult

	err := l.retry(ctx, "list_page", func(ctx context.Context) error {
		var err error
		result, err = l.source.ListPage(ctx, username, page, etag)
		return err
	})

	return result, err
}

func (l *Loader) Languages(ctx context.Context, languagesURL string) ([]stats.LanguageStat, error) {
	var languages []stats.LanguageStat

	err := l.retry(ctx, "languages", func(ctx context.Context) error {
		var err error
		languages, err = l.source.Languages(ctx, languagesURL)
		return err
	})

	return languages, err
}

func (l *Loader) retry(ctx context.Context, op string, call func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.initial
	b.MaxInterval = l.max
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, l.retries), ctx)

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		err := call(callCtx)
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("op", op).Dur("wait", wait).Msg("retrying upstream call")
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil && ctx.Err() != nil && errors.GetCode(err) == errors.CodeUnknown {
		if errors.Is(ctx.Err(), context.Canceled) {
			return errors.Wrap(err, stats.CodeCanceled, "upstream call abandoned")
		}
		return errors.Wrap(err, errors.CodeTimeout, "upstream call abandoned")
	}
	return err
}
