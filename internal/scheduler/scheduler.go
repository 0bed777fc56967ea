// Package scheduler runs the poll loop that discovers due publish
// tasks and feeds them to a bounded pool of workers. Claim state lives
// in the task store, so a crashed scheduler loses nothing: whatever it
// claimed is swept back by the watchdog, and everything else stays
// claimable.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/repository"
)

// TaskProcessor executes one claimed task. Implementations must absorb
// every failure into task state; Process does not return an error.
type TaskProcessor interface {
	Process(ctx context.Context, task *models.PublishTask)
}

type Scheduler struct {
	cfg       config.Pipeline
	tasks     repository.TaskRepository
	processor TaskProcessor
	workerID  string

	queue  chan *models.PublishTask
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func New(cfg config.Pipeline, tasks repository.TaskRepository, processor TaskProcessor) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		tasks:     tasks,
		processor: processor,
		workerID:  gonanoid.Must(),
		// The buffer is the deferral queue: tasks claimed while every
		// worker is busy wait here, already claimed so no re-poll can
		// pick them up.
		queue:  make(chan *models.PublishTask, cfg.BatchLimit),
		stopCh: make(chan struct{}),
	}
}

// WorkerID identifies this scheduler instance in claimed_by.
func (s *Scheduler) WorkerID() string { return s.workerID }

// Start launches the worker pool and the poll loop. It returns
// immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)

	slog.Info("scheduler started",
		"worker_id", s.workerID,
		"poll_interval", s.cfg.PollInterval,
		"concurrency", s.cfg.Concurrency,
		"batch_limit", s.cfg.BatchLimit)
}

// Stop halts polling and waits for in-flight tasks to finish. Tasks
// still waiting in the queue are processed before Stop returns; they
// are claimed, so abandoning them would strand them until the watchdog.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	slog.Info("scheduler stopped", "worker_id", s.workerID)
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.queue)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick claims one batch of due tasks and hands them to the pool. A
// store error only skips this tick; no task is lost because claim
// state is durable.
func (s *Scheduler) tick(ctx context.Context) {
	claimed, err := s.tasks.ClaimDue(ctx, time.Now(), s.cfg.BatchLimit, s.workerID)
	if err != nil {
		slog.Error("poll tick failed", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	slog.Info("claimed due tasks", "count", len(claimed), "worker_id", s.workerID)

	for _, task := range claimed {
		select {
		case s.queue <- task:
		case <-s.stopCh:
			// Left claimed; the watchdog returns it to scheduled.
			return
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for task := range s.queue {
		s.processor.Process(ctx, task)
	}
}
