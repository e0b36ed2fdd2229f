package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pageturner/internal/config"
	"pageturner/internal/store"
	"pageturner/internal/transcribe"
	"pageturner/internal/viewer"
)

// Sessions hands out live reader sessions. *viewer.Launcher satisfies it;
// tests substitute fakes.
type Sessions interface {
	Acquire(ctx context.Context, url string) (viewer.Session, func(), error)
}

// Orchestrator manages the capture and import pipeline.
type Orchestrator struct {
	jobs     *JobStore
	queue    chan *Job
	sessions Sessions
	rec      transcribe.Recognizer
	store    *store.Store
	log      *slog.Logger
	cfg      config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, sessions Sessions, rec transcribe.Recognizer, st *store.Store, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:     NewJobStore(cfg.JobTTL),
		queue:    make(chan *Job, cfg.MaxQueueSize),
		sessions: sessions,
		rec:      rec,
		store:    st,
		log:      log,
		cfg:      cfg,
	}
}

// Start launches worker goroutines and the job store sweeper.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	for range o.cfg.WorkerCount {
		w := NewWorker(o.sessions, o.rec, o.store, o.log, o.cfg)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.drain(ctx, w)
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sweepExpired(ctx)
	}()
}

func (o *Orchestrator) drain(ctx context.Context, w *Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-o.queue:
			if !ok {
				return
			}
			w.Process(ctx, job)
		}
	}
}

// sweepExpired drops finished jobs that have outlived their TTL.
func (o *Orchestrator) sweepExpired(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.jobs.Cleanup()
		}
	}
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Store returns the book store for direct use by API handlers.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}
