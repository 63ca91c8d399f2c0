package fetch

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"sendertally/internal/model"
	"sendertally/internal/progress"
)

const (
	// DefaultInterval is the minimum gap between two provider requests (20 req/s).
	DefaultInterval    = 50 * time.Millisecond
	DefaultPageSize    = 100
	DefaultMaxAttempts = 3
	maxPageSize        = 500 // Gmail's upper bound for maxResults
)

type Options struct {
	// Limit caps the number of messages yielded; 0 means no limit.
	Limit       int
	PageSize    int
	MaxAttempts int
	// Total is the known mailbox size used for progress; 0 if unknown.
	Total    int
	Reporter progress.Reporter
	Logger   *log.Logger

	// interval overrides DefaultInterval in tests.
	interval time.Duration
}

// Lister pages through a Provider. Every list and metadata request waits on
// the same limiter, so requests are spaced by at least the interval with no burst.
type Lister struct {
	p        Provider
	opts     Options
	limiter  *rate.Limiter
	reporter progress.Reporter
	logger   *log.Logger
}

func NewLister(p Provider, opts Options) *Lister {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.interval <= 0 {
		opts.interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Lister{
		p:        p,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Every(opts.interval), 1),
		reporter: progress.Safe(opts.Reporter, logger),
		logger:   logger,
	}
}

// Messages returns a lazy sequence of message metadata in the provider's
// order. The sequence ends when the provider has no further cursor or Limit
// messages have been yielded. A failure is yielded once as an *AbortError and
// ends the sequence; everything yielded before it stays valid.
func (l *Lister) Messages(ctx context.Context) iter.Seq2[model.MessageMeta, error] {
	return func(yield func(model.MessageMeta, error) bool) {
		count := 0
		total := l.capTotal(l.opts.Total)
		cursor := ""
		first := true
		for {
			size := l.opts.PageSize
			if l.opts.Limit > 0 && l.opts.Limit-count < size {
				size = l.opts.Limit - count
			}
			page, err := retry(ctx, l, "list messages", func(ctx context.Context) (Page, error) {
				return l.p.ListPage(ctx, cursor, size)
			})
			if err != nil {
				yield(model.MessageMeta{}, &AbortError{Processed: count, Err: err})
				return
			}
			if first {
				first = false
				if total <= 0 && page.Estimate > 0 {
					total = l.capTotal(page.Estimate)
				}
				l.logger.Debug("first page", "ids", len(page.IDs), "estimate", page.Estimate)
			}

			for _, id := range page.IDs {
				if l.limitReached(count) {
					return
				}
				meta, err := retry(ctx, l, "get message "+id, func(ctx context.Context) (model.MessageMeta, error) {
					return l.p.GetMetadata(ctx, id)
				})
				if err != nil {
					yield(model.MessageMeta{}, &AbortError{Processed: count, Err: err})
					return
				}
				count++
				l.reporter.Report(count, total)
				if !yield(meta, nil) {
					return
				}
			}

			if page.NextCursor == "" || l.limitReached(count) {
				return
			}
			cursor = page.NextCursor
		}
	}
}

func (l *Lister) limitReached(count int) bool {
	return l.opts.Limit > 0 && count >= l.opts.Limit
}

func (l *Lister) capTotal(total int) int {
	if l.opts.Limit > 0 && (total <= 0 || l.opts.Limit < total) {
		return l.opts.Limit
	}
	return total
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// MaxAttempts is used up. Each attempt waits on the limiter first, which is
// also the fixed delay between attempts.
func retry[T any](ctx context.Context, l *Lister, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var err error
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		if werr := l.limiter.Wait(ctx); werr != nil {
			return zero, fmt.Errorf("%s: %w", op, werr)
		}
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		l.logger.Warn("transient error", "op", op, "attempt", attempt, "max", l.opts.MaxAttempts, "err", err)
	}
	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", op, l.opts.MaxAttempts, err)
}
