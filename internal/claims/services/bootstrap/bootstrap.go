// Package bootstrap warms the filter and cache tiers from the authoritative
// store at startup. Both jobs run in the background; the service answers
// requests while they are in flight.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/handlegate/internal/claims/common/clock"
	"github.com/haukened/handlegate/internal/claims/common/log"
)

const (
	DefaultFilterBatchSize  = 100
	DefaultCacheBatchSize   = 250
	DefaultWindowDays       = 30
	DefaultCacheConcurrency = 16

	JobFilter = "filter"
	JobCache  = "cache"
)

// Source streams identifiers out of the authoritative store.
type Source interface {
	StreamAll(ctx context.Context, visit func(token string) error) error
	StreamActiveSince(ctx context.Context, since time.Time, visit func(token string) error) error
}

type Filter interface {
	InsertBatch(tokens []string) error
}

type Cache interface {
	MarkTaken(ctx context.Context, token string) error
}

type Metrics interface {
	ObserveBatch(job string, size int)
	ObserveJob(job string, d time.Duration)
}

type Options struct {
	Source  Source
	Filter  Filter
	Cache   Cache
	Clock   clock.Clock
	Logger  log.Logger
	Metrics Metrics

	FilterBatchSize int
	CacheBatchSize  int
	WindowDays      int
	// CacheConcurrency bounds in-flight MarkTaken calls per cache batch.
	CacheConcurrency int
	// OnFilterLoaded runs once the filter job has inserted every stored
	// token. It is not called when the job aborts.
	OnFilterLoaded func()
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = log.NewNoopLogger()
	}
	if o.FilterBatchSize <= 0 {
		o.FilterBatchSize = DefaultFilterBatchSize
	}
	if o.CacheBatchSize <= 0 {
		o.CacheBatchSize = DefaultCacheBatchSize
	}
	if o.WindowDays <= 0 {
		o.WindowDays = DefaultWindowDays
	}
	if o.CacheConcurrency <= 0 {
		o.CacheConcurrency = DefaultCacheConcurrency
	}
	return o
}

// Result summarizes one job run.
type Result struct {
	Job      string
	Batches  int
	Items    int
	Duration time.Duration
	Err      error
}

// Handle supervises the running jobs.
type Handle struct {
	done    chan struct{}
	mu      sync.Mutex
	results map[string]Result
	err     error
}

// Start launches the filter and cache jobs and returns without waiting.
// Cancelling ctx aborts both jobs.
func Start(ctx context.Context, opts Options) *Handle {
	opts = opts.withDefaults()
	h := &Handle{
		done:    make(chan struct{}),
		results: make(map[string]Result, 2),
	}

	jobs := []struct {
		name string
		run  func(context.Context, Options, *Result) error
	}{
		{JobFilter, runFilterJob},
		{JobCache, runCacheJob},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(jobs))
	for i, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.run(ctx, opts, j.name, j.run)
		}()
	}
	go func() {
		wg.Wait()
		h.mu.Lock()
		h.err = errors.Join(errs...)
		h.mu.Unlock()
		close(h.done)
	}()
	return h
}

func (h *Handle) run(ctx context.Context, opts Options, name string, job func(context.Context, Options, *Result) error) error {
	logger := opts.Logger.With(map[string]any{"job": name})
	start := opts.Clock.Now()
	res := Result{Job: name}

	logger.Info(nil, "bootstrap job started")
	err := job(ctx, opts, &res)
	res.Duration = opts.Clock.Now().Sub(start)
	if err != nil {
		res.Err = fmt.Errorf("bootstrap %s: %w", name, err)
		logger.Error(map[string]any{"error": err, "batches": res.Batches, "items": res.Items}, "bootstrap job aborted")
	} else {
		logger.Info(map[string]any{"batches": res.Batches, "items": res.Items, "duration": res.Duration.String()}, "bootstrap job finished")
	}
	if opts.Metrics != nil {
		opts.Metrics.ObserveJob(name, res.Duration)
	}

	h.mu.Lock()
	h.results[name] = res
	h.mu.Unlock()
	return res.Err
}

// Done is closed once both jobs have finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until both jobs finish and returns their joined errors.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Ready reports whether both jobs have finished, successfully or not.
func (h *Handle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Results returns the results of jobs that have finished so far.
func (h *Handle) Results() map[string]Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]Result, len(h.results))
	for k, v := range h.results {
		out[k] = v
	}
	return out
}

func runFilterJob(ctx context.Context, opts Options, res *Result) error {
	flush := func(batch []string) error {
		if err := opts.Filter.InsertBatch(batch); err != nil {
			return err
		}
		record(opts, JobFilter, res, len(batch))
		return nil
	}
	err := streamBatches(ctx, opts.FilterBatchSize, flush, func(visit func(string) error) error {
		return opts.Source.StreamAll(ctx, visit)
	})
	if err == nil && opts.OnFilterLoaded != nil {
		opts.OnFilterLoaded()
	}
	return err
}

func runCacheJob(ctx context.Context, opts Options, res *Result) error {
	since := opts.Clock.Now().AddDate(0, 0, -opts.WindowDays)
	flush := func(batch []string) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.CacheConcurrency)
		for _, token := range batch {
			g.Go(func() error {
				return opts.Cache.MarkTaken(gctx, token)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		record(opts, JobCache, res, len(batch))
		return nil
	}
	return streamBatches(ctx, opts.CacheBatchSize, flush, func(visit func(string) error) error {
		return opts.Source.StreamActiveSince(ctx, since, visit)
	})
}

func record(opts Options, job string, res *Result, n int) {
	res.Batches++
	res.Items += n
	if opts.Metrics != nil {
		opts.Metrics.ObserveBatch(job, n)
	}
}

// streamBatches accumulates streamed tokens into batches of size and hands
// each full batch, then the final partial one, to flush.
func streamBatches(ctx context.Context, size int, flush func([]string) error, stream func(visit func(string) error) error) error {
	batch := make([]string, 0, size)
	err := stream(func(token string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, token)
		if len(batch) < size {
			return nil
		}
		if err := flush(batch); err != nil {
			return err
		}
		batch = make([]string, 0, size)
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	return flush(batch)
}
