package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-importer/internal/importer"
)

// Worker drains the queue one job at a time. A single worker owns the queue;
// the isProcessing guard keeps overlapping ticks from starting a second run.
type Worker struct {
	queue        *Queue
	pipeline     *importer.Pipeline
	pollInterval time.Duration
	logger       *zap.Logger

	isProcessing atomic.Bool
}

func NewWorker(queue *Queue, pipeline *importer.Pipeline, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, pipeline: pipeline, pollInterval: pollInterval, logger: logger}
}

// Run polls until ctx ends. The loop always waits out the poll interval
// between ticks, including after a processed job or a poll error.
func (w *Worker) Run(ctx context.Context) {
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()
	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if !w.isProcessing.CompareAndSwap(false, true) {
		return
	}
	defer w.isProcessing.Store(false)

	job, err := w.queue.NextPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("poll pending jobs failed", zap.Error(err))
		}
		return
	}
	if job == nil {
		return
	}
	w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *Job) {
	started := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	if err := w.queue.Update(ctx, job); err != nil {
		w.logger.Warn("mark job running failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	w.logger.Info("background import started",
		zap.String("job_id", job.ID),
		zap.String("platform", string(job.Platform)),
		zap.String("username", job.Username),
		zap.Int("count", job.Count))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	canceled := false

	opts := importer.Options{
		UserID:   job.UserID,
		Username: job.Username,
		Platform: job.Platform,
		Count:    job.Count,
		AutoTag:  job.AutoTag,
		// No resolver in background mode: conflicts fall back to skip.
		OnProgress: func(pr importer.Progress) {
			if cur, err := w.queue.Get(ctx, job.ID); err == nil && cur != nil && cur.Status == StatusCanceled {
				canceled = true
				cancelRun()
				return
			}
			pr.CurrentDuplicate = nil
			job.Progress = pr
			if err := w.queue.Update(ctx, job); err != nil {
				w.logger.Warn("mirror job progress failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		},
	}

	final := w.pipeline.Run(runCtx, opts)
	final.CurrentDuplicate = nil
	job.Progress = final

	finished := time.Now().UTC()
	job.FinishedAt = &finished
	switch {
	case canceled:
		job.Status = StatusCanceled
	case final.Status == importer.StatusCompleted:
		job.Status = StatusCompleted
	default:
		job.Status = StatusFailed
		job.Error = final.Error
	}
	if err := w.queue.Update(ctx, job); err != nil {
		w.logger.Warn("finalize job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	w.logger.Info("background import finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("completed", final.Completed),
		zap.Int("failed", final.Failed),
		zap.Int("duplicates", final.Duplicates))
}
