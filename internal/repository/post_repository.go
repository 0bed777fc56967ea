package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"postpilot/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error)
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	UpdatePostStatus(ctx context.Context, status string, postID int64) error
	CancelTx(ctx context.Context, postID int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) (int64, error) {
	query := `
		INSERT INTO posts (user_id, post_type, caption, title, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, post.UserID, post.PostType, post.Caption, post.Title, post.ScheduledAt, models.PostStatusScheduled).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, post.UserID, post.PostType, post.Caption, post.Title, post.ScheduledAt, models.PostStatusScheduled).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	query := `SELECT id, user_id, post_type, caption, title, scheduled_at, status, created_at, updated_at FROM posts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var post models.ScheduledPost
	err := row.Scan(&post.ID, &post.UserID, &post.PostType, &post.Caption, &post.Title, &post.ScheduledAt, &post.Status, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	query := `SELECT id, user_id, post_type, caption, title, scheduled_at, status, created_at, updated_at FROM posts WHERE user_id = $1 ORDER BY scheduled_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		var post models.ScheduledPost
		err := rows.Scan(&post.ID, &post.UserID, &post.PostType, &post.Caption, &post.Title, &post.ScheduledAt, &post.Status, &post.CreatedAt, &post.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, &post)
	}
	return posts, rows.Err()
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := "SELECT 1 FROM posts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *postRepository) UpdatePostStatus(ctx context.Context, status string, postID int64) error {
	query := `
		UPDATE posts
		SET status = $1,
			updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// CancelTx deletes a post and its tasks, but only while every task is
// still untouched. The status check locks the rows inside the same
// transaction as the deletes so a concurrent claim cannot slip between
// check and delete.
func (r *postRepository) CancelTx(ctx context.Context, postID int64) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT status FROM publish_tasks
		WHERE post_id = $1
		FOR UPDATE
	`, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			rows.Close()
			slog.Info(err.Error())
			return err
		}
		if status != models.TaskStatusScheduled {
			rows.Close()
			return ErrNotCancelable
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM publish_tasks WHERE post_id = $1`, postID); err != nil {
		slog.Info(err.Error())
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM post_media WHERE post_id = $1`, postID); err != nil {
		slog.Info(err.Error())
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, postID); err != nil {
		slog.Info(err.Error())
		return err
	}

	return tx.Commit()
}
