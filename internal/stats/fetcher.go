package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"QualityMarker/internal/domain"
	"QualityMarker/internal/ports"
)

const (
	defaultRetryLimit  = 3
	defaultBackoffStep = time.Second
	defaultTimeout     = 10 * time.Second
)

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithRetryLimit sets how many retries follow the first attempt (defaults to 3).
func WithRetryLimit(limit int) Option {
	return func(f *Fetcher) {
		f.retryLimit = limit
	}
}

// WithBackoffStep sets the linear backoff unit; retry n waits n*step.
func WithBackoffStep(step time.Duration) Option {
	return func(f *Fetcher) {
		f.backoffStep = step
	}
}

// WithTimeout bounds every single attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = timeout
	}
}

// WithSleeper overrides how backoff waits are performed (useful for tests).
func WithSleeper(sleeper func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleep = sleeper
	}
}

// WithLimiter paces outbound requests across all identifiers.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = limiter
	}
}

// WithLogger sets the debug logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// Fetcher resolves stats with one outstanding request per identifier and a
// bounded, linearly backed-off retry loop. Failures are never cached: once a
// call settles its registry entry is gone and the next Resolve starts over.
type Fetcher struct {
	source      ports.StatsSource
	retryLimit  int
	backoffStep time.Duration
	timeout     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu  sync.Mutex
	reg *registry
}

var _ ports.StatsResolver = (*Fetcher)(nil)

// registry is one generation of in-flight requests. Reset swaps it out.
type registry struct {
	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[domain.VideoID]struct{}
}

func newRegistry() *registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &registry{ctx: ctx, cancel: cancel, inflight: map[domain.VideoID]struct{}{}}
}

// NewFetcher wraps a single-shot stats source.
func NewFetcher(source ports.StatsSource, opts ...Option) *Fetcher {
	f := &Fetcher{
		source:      source,
		retryLimit:  defaultRetryLimit,
		backoffStep: defaultBackoffStep,
		timeout:     defaultTimeout,
		sleep:       sleepContext,
		reg:         newRegistry(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.retryLimit < 0 {
		f.retryLimit = 0
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if f.sleep == nil {
		f.sleep = sleepContext
	}
	return f
}

// Resolve returns stats for id. Concurrent callers for the same id share one
// request chain; a caller whose ctx ends stops waiting without affecting the
// others.
func (f *Fetcher) Resolve(ctx context.Context, id domain.VideoID) (domain.Stats, error) {
	if id == "" {
		return domain.Stats{}, errors.New("resolve: empty video id")
	}
	if f.source == nil {
		return domain.Stats{}, errors.New("resolve: stats source is not configured")
	}

	reg := f.current()
	ch := reg.group.DoChan(string(id), func() (interface{}, error) {
		reg.track(id, true)
		defer reg.track(id, false)
		return f.fetchWithRetry(reg.ctx, id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Stats{}, res.Err
		}
		return res.Val.(domain.Stats), nil
	case <-ctx.Done():
		return domain.Stats{}, ctx.Err()
	}
}

// Pending returns the number of identifiers with a request in flight.
func (f *Fetcher) Pending() int {
	reg := f.current()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.inflight)
}

// Reset cancels every in-flight request chain and empties the registry.
func (f *Fetcher) Reset() {
	f.mu.Lock()
	old := f.reg
	f.reg = newRegistry()
	f.mu.Unlock()

	old.cancel()
}

func (f *Fetcher) current() *registry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reg
}

func (r *registry) track(id domain.VideoID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active {
		r.inflight[id] = struct{}{}
	} else {
		delete(r.inflight, id)
	}
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, id domain.VideoID) (domain.Stats, error) {
	attempts := f.retryLimit + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, f.backoffDelay(attempt)); err != nil {
				return domain.Stats{}, fmt.Errorf("resolve %s: %w", id, err)
			}
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return domain.Stats{}, fmt.Errorf("resolve %s: %w", id, err)
			}
		}

		result, err := f.attempt(ctx, id)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return domain.Stats{}, fmt.Errorf("resolve %s: %w", id, ctx.Err())
		}

		lastErr = err
		f.debug("stats attempt failed", "bvid", id, "attempt", attempt+1, "of", attempts, "error", err)
	}

	return domain.Stats{}, fmt.Errorf("resolve %s: failed after %d attempts: %w", id, attempts, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, id domain.VideoID) (domain.Stats, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.source.FetchStats(attemptCtx, id)
}

func (f *Fetcher) backoffDelay(retry int) time.Duration {
	return time.Duration(retry) * f.backoffStep
}

func (f *Fetcher) debug(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
