package concurrent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Task is one unit of work submitted to a Runner.
type Task[T any] func(ctx context.Context) (T, error)

// Outcome is the settled result of a task. Index is the task's position in the
// submitted slice.
type Outcome[T any] struct {
	Index    int
	Value    T
	Err      error
	Attempts int
	Latency  time.Duration
}

// RetryFunc decides whether a failed attempt should be retried.
type RetryFunc func(err error, attempt int) bool

// Config holds configuration for a Runner.
type Config struct {
	Workers     int           // Number of concurrent workers
	Rate        rate.Limit    // Tasks started per second, 0 for unlimited
	Burst       int           // Limiter bucket size, defaults to 1
	Timeout     time.Duration // Timeout per attempt, 0 for none
	MaxAttempts int           // Attempts per task, defaults to 1
	Retry       RetryFunc     // Nil never retries
	Backoff     time.Duration // Base backoff between attempts
}

// Runner executes tasks on a bounded worker pool behind a shared rate limiter.
// Every submitted task settles; a failure never cancels its siblings.
type Runner struct {
	cfg     Config
	limiter *rate.Limiter
	metrics Metrics
	mu      sync.Mutex
}

// Metrics tracks performance across every Run of a Runner.
type Metrics struct {
	Tasks          int
	Succeeded      int
	Failed         int
	Attempts       int
	TotalLatency   time.Duration
	AverageLatency time.Duration
}

// NewRunner creates a Runner, filling in defaults for zero values.
func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers > 10 {
			cfg.Workers = 10 // Cap at 10 to be respectful to APIs
		}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	limit := cfg.Rate
	if limit <= 0 {
		limit = rate.Inf
	}

	return &Runner{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// Run executes every task and returns one outcome per task, in task order.
// Tasks still queued when ctx is done settle with the context error.
func Run[T any](ctx context.Context, r *Runner, tasks []Task[T]) []Outcome[T] {
	out := make([]Outcome[T], len(tasks))
	if len(tasks) == 0 {
		return out
	}

	jobs := make(chan int, len(tasks))
	for i := range tasks {
		jobs <- i
	}
	close(jobs)

	workers := r.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// Each worker writes only its own indices.
				out[i] = execute(ctx, r, i, tasks[i])
				r.record(out[i].Err, out[i].Attempts, out[i].Latency)
			}
		}()
	}
	wg.Wait()

	return out
}

func execute[T any](ctx context.Context, r *Runner, index int, task Task[T]) (res Outcome[T]) {
	res.Index = index
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if err := r.limiter.Wait(ctx); err != nil {
		res.Err = fmt.Errorf("rate limiter: %w", err)
		return res
	}

	start := time.Now()
	defer func() { res.Latency = time.Since(start) }()

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		res.Attempts++
		value, err := attemptOnce(ctx, r.cfg.Timeout, task)
		if err == nil {
			res.Value, res.Err = value, nil
			return res
		}
		res.Err = err

		if attempt == r.cfg.MaxAttempts-1 || r.cfg.Retry == nil || !r.cfg.Retry(err, attempt) {
			break
		}

		// Exponential backoff
		backoff := r.cfg.Backoff * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
	}

	if res.Attempts > 1 {
		res.Err = fmt.Errorf("failed after %d attempts: %w", res.Attempts, res.Err)
	}
	return res
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, task Task[T]) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return task(ctx)
}

func (r *Runner) record(err error, attempts int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.Tasks++
	r.metrics.Attempts += attempts
	r.metrics.TotalLatency += latency
	if err != nil {
		r.metrics.Failed++
	} else {
		r.metrics.Succeeded++
	}
}

// Metrics returns a snapshot of the runner's counters.
func (r *Runner) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.metrics
	if snap.Tasks > 0 {
		snap.AverageLatency = snap.TotalLatency / time.Duration(snap.Tasks)
	}
	return snap
}

// DefaultRetry retries timeouts and errors that report themselves temporary,
// up to two retries.
func DefaultRetry(err error, attempt int) bool {
	if attempt >= 2 || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var temp interface{ Temporary() bool }
	return errors.As(err, &temp) && temp.Temporary()
}
