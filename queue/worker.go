package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"showtix/monitoring"
)

// Handler processes one job. A nil return acknowledges the job; any error
// sends it through the retry/backoff path.
type Handler func(ctx context.Context, job *Job) error

// ErrUnrecoverable short-circuits retries and buries the job immediately.
var ErrUnrecoverable = errors.New("unrecoverable job failure")

// Worker consumes one named queue with a fixed pool of goroutines plus one
// promoter goroutine that ticks delayed jobs onto the wait list.
type Worker struct {
	queue           *Queue
	name            string
	handler         Handler
	concurrency     int
	promoteInterval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type WorkerOptions struct {
	Concurrency     int
	PromoteInterval time.Duration
}

func NewWorker(q *Queue, name string, handler Handler, options WorkerOptions) *Worker {
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}
	if options.PromoteInterval <= 0 {
		options.PromoteInterval = time.Second
	}
	return &Worker{
		queue:           q,
		name:            name,
		handler:         handler,
		concurrency:     options.Concurrency,
		promoteInterval: options.PromoteInterval,
		stopChan:        make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	// Jobs a previous process died holding go back on the wait list first,
	// so this run redelivers them.
	if moved, err := w.queue.Reclaim(ctx, w.name); err != nil {
		slog.Error("reclaim in-flight jobs failed", "queue", w.name, "error", err)
	} else if moved > 0 {
		slog.Info("reclaimed in-flight jobs", "queue", w.name, "count", moved)
	}

	w.wg.Add(1)
	go w.promoter(ctx)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.consume(ctx)
	}

	slog.Info("worker started", "queue", w.name, "concurrency", w.concurrency)
}

// Stop signals all goroutines and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	slog.Info("worker stopped", "queue", w.name)
}

func (w *Worker) promoter(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.queue.Promote(ctx, w.name); err != nil && ctx.Err() == nil {
				slog.Error("promote delayed jobs failed", "queue", w.name, "error", err)
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) consume(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, w.name, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "queue", w.name, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	started := time.Now()
	err := w.run(ctx, job)
	duration := time.Since(started)

	// settled: the job landed somewhere durable (done, rescheduled or
	// buried) and its processing-list copy can go. A failed reschedule
	// leaves the copy in place for the next reclaim.
	settled := true

	switch {
	case err == nil:
		monitoring.TrackJob(w.name, job.Type, "ok", duration)

	case errors.Is(err, ErrUnrecoverable):
		slog.Error("job unrecoverable", "queue", w.name, "job_type", job.Type, "job_id", job.ID, "error", err)
		if buryErr := w.queue.bury(ctx, job); buryErr != nil {
			slog.Error("bury job failed", "queue", w.name, "job_id", job.ID, "error", buryErr)
			settled = false
		}
		monitoring.TrackJob(w.name, job.Type, "dead", duration)

	default:
		slog.Warn("job failed, retrying", "queue", w.name, "job_type", job.Type,
			"job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if retryErr := w.queue.Retry(ctx, job); retryErr != nil {
			slog.Error("retry job failed", "queue", w.name, "job_id", job.ID, "error", retryErr)
			settled = false
			monitoring.TrackJob(w.name, job.Type, "dead", duration)
		} else if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
			monitoring.TrackJob(w.name, job.Type, "dead", duration)
		} else {
			monitoring.TrackJob(w.name, job.Type, "retry", duration)
		}
	}

	if settled {
		if ackErr := w.queue.Ack(ctx, job); ackErr != nil {
			slog.Error("ack job failed", "queue", w.name, "job_id", job.ID, "error", ackErr)
		}
	}
}

// run shields the pool from handler panics; a panic fails the job like
// any other error and goes through retry/dead-letter.
func (w *Worker) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
			slog.Error("job handler panicked", "queue", w.name,
				"job_type", job.Type, "job_id", job.ID, "panic", r)
		}
	}()
	return w.handler(ctx, job)
}
