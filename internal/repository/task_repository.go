package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"postpilot/internal/models"
)

type TaskRepository interface {
	CreateBatch(ctx context.Context, tx *sql.Tx, tasks []*models.PublishTask) error
	GetByID(ctx context.Context, id int64) (*models.PublishTask, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishTask, error)
	ClaimDue(ctx context.Context, now time.Time, limit int, claimedBy string) ([]*models.PublishTask, error)
	MarkPublished(ctx context.Context, taskID, version int64, attemptCount int, now time.Time) error
	MarkRetryPending(ctx context.Context, taskID, version int64, attemptCount int, errKind, errMsg string, nextRetryAt, now time.Time) error
	MarkFailedPermanent(ctx context.Context, taskID, version int64, attemptCount int, errKind, errMsg string, now time.Time) error
	ReclaimStale(ctx context.Context, before time.Time) (int64, error)
	TerminalCounts(ctx context.Context, postID int64) (open, failed int, err error)
}

type taskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `id, post_id, account_id, platform, status, scheduled_at,
		attempt_count, last_error_kind, last_error, last_attempted_at,
		next_retry_at, claimed_by, claimed_at, version, created_at, updated_at`

func (r *taskRepository) CreateBatch(ctx context.Context, tx *sql.Tx, tasks []*models.PublishTask) error {
	query := `
		INSERT INTO publish_tasks (post_id, account_id, platform, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	for _, task := range tasks {
		err := tx.QueryRowContext(ctx, query,
			task.PostID, task.AccountID, task.Platform, models.TaskStatusScheduled, task.ScheduledAt,
		).Scan(&task.ID)
		if err != nil {
			slog.Info(err.Error())
			return err
		}
	}
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, id int64) (*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + ` FROM publish_tasks WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishTask, error) {
	query := `SELECT ` + taskColumns + ` FROM publish_tasks WHERE post_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.PublishTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimDue atomically claims up to limit due tasks. The subselect locks
// candidate rows with FOR UPDATE SKIP LOCKED so concurrent callers,
// including callers in other processes, never claim the same task.
func (r *taskRepository) ClaimDue(ctx context.Context, now time.Time, limit int, claimedBy string) ([]*models.PublishTask, error) {
	query := `
		UPDATE publish_tasks
		SET status = $1,
			claimed_by = $2,
			claimed_at = $3,
			version = version + 1,
			updated_at = $3
		WHERE id IN (
			SELECT id FROM publish_tasks
			WHERE (status = $4 AND scheduled_at <= $3)
			   OR (status = $5 AND next_retry_at <= $3)
			ORDER BY scheduled_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	rows, err := r.db.QueryContext(ctx, query,
		models.TaskStatusClaimed, claimedBy, now,
		models.TaskStatusScheduled, models.TaskStatusRetryPending, limit,
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.PublishTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *taskRepository) MarkPublished(ctx context.Context, taskID, version int64, attemptCount int, now time.Time) error {
	query := `
		UPDATE publish_tasks
		SET status = $1,
			attempt_count = $2,
			last_error_kind = '',
			last_error = '',
			last_attempted_at = $3,
			next_retry_at = NULL,
			claimed_by = '',
			claimed_at = NULL,
			version = version + 1,
			updated_at = $3
		WHERE id = $4 AND status = $5 AND version = $6
	`
	result, err := r.db.ExecContext(ctx, query,
		models.TaskStatusPublished, attemptCount, now,
		taskID, models.TaskStatusClaimed, version,
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// A duplicate success report is a no-op, not an error.
		var status string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM publish_tasks WHERE id = $1`, taskID).Scan(&status)
		if err == nil && status == models.TaskStatusPublished {
			return nil
		}
		return ErrStaleClaim
	}
	return nil
}

func (r *taskRepository) MarkRetryPending(ctx context.Context, taskID, version int64, attemptCount int, errKind, errMsg string, nextRetryAt, now time.Time) error {
	query := `
		UPDATE publish_tasks
		SET status = $1,
			attempt_count = $2,
			last_error_kind = $3,
			last_error = $4,
			last_attempted_at = $5,
			next_retry_at = $6,
			claimed_by = '',
			claimed_at = NULL,
			version = version + 1,
			updated_at = $5
		WHERE id = $7 AND status = $8 AND version = $9
	`
	result, err := r.db.ExecContext(ctx, query,
		models.TaskStatusRetryPending, attemptCount, errKind, errMsg, now, nextRetryAt,
		taskID, models.TaskStatusClaimed, version,
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return checkAffected(result)
}

func (r *taskRepository) MarkFailedPermanent(ctx context.Context, taskID, version int64, attemptCount int, errKind, errMsg string, now time.Time) error {
	query := `
		UPDATE publish_tasks
		SET status = $1,
			attempt_count = $2,
			last_error_kind = $3,
			last_error = $4,
			last_attempted_at = $5,
			next_retry_at = NULL,
			claimed_by = '',
			claimed_at = NULL,
			version = version + 1,
			updated_at = $5
		WHERE id = $6 AND status = $7 AND version = $8
	`
	result, err := r.db.ExecContext(ctx, query,
		models.TaskStatusFailedPermanent, attemptCount, errKind, errMsg, now,
		taskID, models.TaskStatusClaimed, version,
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return checkAffected(result)
}

// ReclaimStale reverts tasks stuck in claimed past the maximum
// execution duration back to scheduled so a live worker can pick them
// up. The version bump invalidates any outcome the stuck worker might
// still try to report.
func (r *taskRepository) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE publish_tasks
		SET status = $1,
			claimed_by = '',
			claimed_at = NULL,
			version = version + 1,
			updated_at = NOW()
		WHERE status = $2 AND claimed_at < $3
	`
	result, err := r.db.ExecContext(ctx, query,
		models.TaskStatusScheduled, models.TaskStatusClaimed, before,
	)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return result.RowsAffected()
}

func (r *taskRepository) TerminalCounts(ctx context.Context, postID int64) (int, int, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status NOT IN ($2, $3)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM publish_tasks WHERE post_id = $1
	`
	var open, failed int
	err := r.db.QueryRowContext(ctx, query, postID,
		models.TaskStatusPublished, models.TaskStatusFailedPermanent,
	).Scan(&open, &failed)
	if err != nil {
		slog.Info(err.Error())
		return 0, 0, err
	}
	return open, failed, nil
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleClaim
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.PublishTask, error) {
	var t models.PublishTask
	err := row.Scan(&t.ID, &t.PostID, &t.AccountID, &t.Platform, &t.Status, &t.ScheduledAt,
		&t.AttemptCount, &t.LastErrorKind, &t.LastError, &t.LastAttemptedAt,
		&t.NextRetryAt, &t.ClaimedBy, &t.ClaimedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
