package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/repository"
	"postpilot/internal/scheduler"
)

type recordingProcessor struct {
	mu    sync.Mutex
	seen  map[int64]int
	tasks *repository.MemoryTaskRepository
}

func newRecordingProcessor(tasks *repository.MemoryTaskRepository) *recordingProcessor {
	return &recordingProcessor{seen: make(map[int64]int), tasks: tasks}
}

func (p *recordingProcessor) Process(ctx context.Context, task *models.PublishTask) {
	p.mu.Lock()
	p.seen[task.ID]++
	p.mu.Unlock()
	// Drive the task terminal so it never becomes due again.
	if err := p.tasks.MarkPublished(ctx, task.ID, task.Version, task.AttemptCount+1, time.Now()); err != nil {
		panic(err)
	}
}

func (p *recordingProcessor) counts() map[int64]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int64]int, len(p.seen))
	for id, n := range p.seen {
		out[id] = n
	}
	return out
}

func testConfig() config.Pipeline {
	return config.Pipeline{
		PollInterval: 5 * time.Millisecond,
		BatchLimit:   10,
		Concurrency:  4,
	}
}

func addTask(tasks *repository.MemoryTaskRepository, scheduledAt time.Time) int64 {
	task := &models.PublishTask{
		PostID:      1,
		AccountID:   5,
		Platform:    models.PlatformTiktok,
		Status:      models.TaskStatusScheduled,
		ScheduledAt: scheduledAt,
	}
	tasks.Add(task)
	return task.ID
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestScheduler_ProcessesDueTasksExactlyOnce(t *testing.T) {
	tasks := repository.NewMemoryTaskRepository()
	var dueIDs []int64
	for i := 0; i < 5; i++ {
		dueIDs = append(dueIDs, addTask(tasks, time.Now().Add(-time.Minute)))
	}
	futureID := addTask(tasks, time.Now().Add(time.Hour))

	proc := newRecordingProcessor(tasks)
	s := scheduler.New(testConfig(), tasks, proc)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return len(proc.counts()) == len(dueIDs) })

	counts := proc.counts()
	for _, id := range dueIDs {
		if counts[id] != 1 {
			t.Errorf("task %d processed %d times, want exactly 1", id, counts[id])
		}
	}
	if counts[futureID] != 0 {
		t.Errorf("future task %d was processed before its scheduled time", futureID)
	}
}

func TestScheduler_CompetingInstancesNeverShareATask(t *testing.T) {
	tasks := repository.NewMemoryTaskRepository()
	const n = 40
	for i := 0; i < n; i++ {
		addTask(tasks, time.Now().Add(-time.Minute))
	}

	proc := newRecordingProcessor(tasks)
	a := scheduler.New(testConfig(), tasks, proc)
	b := scheduler.New(testConfig(), tasks, proc)
	if a.WorkerID() == b.WorkerID() {
		t.Fatal("scheduler instances must have distinct worker IDs")
	}

	a.Start(context.Background())
	b.Start(context.Background())
	defer a.Stop()
	defer b.Stop()

	waitFor(t, func() bool { return len(proc.counts()) == n })

	for id, count := range proc.counts() {
		if count != 1 {
			t.Errorf("task %d processed %d times across instances, want exactly 1", id, count)
		}
	}
}

func TestScheduler_RetryPendingTasksBecomeDue(t *testing.T) {
	tasks := repository.NewMemoryTaskRepository()
	id := addTask(tasks, time.Now().Add(-time.Hour))

	// Move the task into retry_pending with a retry time already past.
	claimed, err := tasks.ClaimDue(context.Background(), time.Now(), 10, "setup")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("setup claim failed: %v (claimed %d)", err, len(claimed))
	}
	err = tasks.MarkRetryPending(context.Background(), id, claimed[0].Version, 1,
		"transient", "timeout", time.Now().Add(-time.Second), time.Now())
	if err != nil {
		t.Fatalf("setup retry transition failed: %v", err)
	}

	proc := newRecordingProcessor(tasks)
	s := scheduler.New(testConfig(), tasks, proc)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return proc.counts()[id] == 1 })

	task, err := tasks.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.TaskStatusPublished {
		t.Errorf("status = %q, want %q", task.Status, models.TaskStatusPublished)
	}
	if task.AttemptCount != 2 {
		t.Errorf("attempt count = %d, want 2", task.AttemptCount)
	}
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	tasks := repository.NewMemoryTaskRepository()
	s := scheduler.New(testConfig(), tasks, newRecordingProcessor(tasks))
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
