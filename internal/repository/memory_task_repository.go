package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"postpilot/internal/models"
)

// MemoryTaskRepository is an in-memory TaskRepository with the same
// conditional-update semantics as the Postgres implementation. It backs
// tests and local development; the claim and outcome guards behave
// identically so concurrency properties hold against either.
type MemoryTaskRepository struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*models.PublishTask
}

func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{tasks: make(map[int64]*models.PublishTask)}
}

func (r *MemoryTaskRepository) CreateBatch(_ context.Context, _ *sql.Tx, tasks []*models.PublishTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, task := range tasks {
		r.nextID++
		task.ID = r.nextID
		task.Status = models.TaskStatusScheduled
		task.CreatedAt = time.Now()
		task.UpdatedAt = task.CreatedAt
		clone := *task
		r.tasks[task.ID] = &clone
	}
	return nil
}

// Add inserts a task as-is, for tests that need a specific starting
// state.
func (r *MemoryTaskRepository) Add(task *models.PublishTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == 0 {
		r.nextID++
		task.ID = r.nextID
	} else if task.ID > r.nextID {
		r.nextID = task.ID
	}
	clone := *task
	r.tasks[task.ID] = &clone
}

func (r *MemoryTaskRepository) GetByID(_ context.Context, id int64) (*models.PublishTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *task
	return &clone, nil
}

func (r *MemoryTaskRepository) ListByPostID(_ context.Context, postID int64) ([]*models.PublishTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tasks []*models.PublishTask
	for _, task := range r.tasks {
		if task.PostID == postID {
			clone := *task
			tasks = append(tasks, &clone)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (r *MemoryTaskRepository) ClaimDue(_ context.Context, now time.Time, limit int, claimedBy string) ([]*models.PublishTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*models.PublishTask
	for _, task := range r.tasks {
		switch task.Status {
		case models.TaskStatusScheduled:
			if !task.ScheduledAt.After(now) {
				due = append(due, task)
			}
		case models.TaskStatusRetryPending:
			if task.NextRetryAt != nil && !task.NextRetryAt.After(now) {
				due = append(due, task)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.PublishTask, 0, len(due))
	for _, task := range due {
		task.Status = models.TaskStatusClaimed
		task.ClaimedBy = claimedBy
		claimedAt := now
		task.ClaimedAt = &claimedAt
		task.Version++
		task.UpdatedAt = now
		clone := *task
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (r *MemoryTaskRepository) MarkPublished(_ context.Context, taskID, version int64, attemptCount int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return ErrStaleClaim
	}
	if task.Status != models.TaskStatusClaimed || task.Version != version {
		if task.Status == models.TaskStatusPublished {
			return nil
		}
		return ErrStaleClaim
	}

	task.Status = models.TaskStatusPublished
	task.AttemptCount = attemptCount
	task.LastErrorKind = ""
	task.LastError = ""
	attemptedAt := now
	task.LastAttemptedAt = &attemptedAt
	task.NextRetryAt = nil
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	task.Version++
	task.UpdatedAt = now
	return nil
}

func (r *MemoryTaskRepository) MarkRetryPending(_ context.Context, taskID, version int64, attemptCount int, errKind, errMsg string, nextRetryAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok || task.Status != models.TaskStatusClaimed || task.Version != version {
		return ErrStaleClaim
	}

	task.Status = models.TaskStatusRetryPending
	task.AttemptCount = attemptCount
	task.LastErrorKind = errKind
	task.LastError = errMsg
	attemptedAt := now
	task.LastAttemptedAt = &attemptedAt
	retryAt := nextRetryAt
	task.NextRetryAt = &retryAt
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	task.Version++
	task.UpdatedAt = now
	return nil
}

func (r *MemoryTaskRepository) MarkFailedPermanent(_ context.Context, taskID, version int64, attemptCount int, errKind, errMsg string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok || task.Status != models.TaskStatusClaimed || task.Version != version {
		return ErrStaleClaim
	}

	task.Status = models.TaskStatusFailedPermanent
	task.AttemptCount = attemptCount
	task.LastErrorKind = errKind
	task.LastError = errMsg
	attemptedAt := now
	task.LastAttemptedAt = &attemptedAt
	task.NextRetryAt = nil
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	task.Version++
	task.UpdatedAt = now
	return nil
}

func (r *MemoryTaskRepository) ReclaimStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reclaimed int64
	for _, task := range r.tasks {
		if task.Status == models.TaskStatusClaimed && task.ClaimedAt != nil && task.ClaimedAt.Before(before) {
			task.Status = models.TaskStatusScheduled
			task.ClaimedBy = ""
			task.ClaimedAt = nil
			task.Version++
			task.UpdatedAt = time.Now()
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (r *MemoryTaskRepository) TerminalCounts(_ context.Context, postID int64) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var open, failed int
	for _, task := range r.tasks {
		if task.PostID != postID {
			continue
		}
		switch task.Status {
		case models.TaskStatusPublished:
		case models.TaskStatusFailedPermanent:
			failed++
		default:
			open++
		}
	}
	return open, failed, nil
}
