package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"postpilot/internal/models"
	"postpilot/internal/repository"
	"postpilot/internal/transfer"
)

type PostService interface {
	Enqueue(ctx context.Context, userID int64, pc *transfer.PostCreation) (int64, error)
	Cancel(ctx context.Context, userID, postID int64) error
	List(ctx context.Context, userID int64) ([]*models.ScheduledPost, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.ScheduledPost, []*models.PublishTask, error)
}

type postService struct {
	db *sql.DB
	pr repository.PostRepository
	tr repository.TaskRepository
	la repository.LinkedAccountRepository
	ma repository.MediaAssetRepository
	pm repository.PostMediaRepository
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	tr repository.TaskRepository,
	la repository.LinkedAccountRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository) PostService {
	return &postService{
		db: db,
		pr: pr,
		tr: tr,
		la: la,
		ma: ma,
		pm: pm,
	}
}

// Enqueue validates the request and persists the post plus one publish
// task per selected account, all in one transaction. Tasks start in
// scheduled and become visible to the poll loop once scheduled_at
// arrives.
func (s *postService) Enqueue(ctx context.Context, userID int64, pc *transfer.PostCreation) (int64, error) {
	if pc == nil {
		return 0, fmt.Errorf("%w: request is nil", repository.ErrValidation)
	}
	if pc.Caption == "" {
		return 0, fmt.Errorf("%w: caption cannot be empty", repository.ErrValidation)
	}
	if len(pc.AccountIDs) == 0 {
		return 0, fmt.Errorf("%w: no accounts selected", repository.ErrValidation)
	}
	if len(pc.AssetIDs) == 0 {
		return 0, fmt.Errorf("%w: no media assets referenced", repository.ErrValidation)
	}

	scheduledAt, err := time.Parse(time.RFC3339, pc.ScheduledAt)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid scheduled_at: %v", repository.ErrValidation, err)
	}
	// The instant is normalized once here; every later comparison uses
	// the stored value.
	scheduledAt = scheduledAt.UTC()
	if !scheduledAt.After(time.Now()) {
		return 0, fmt.Errorf("%w: scheduled_at must be in the future", repository.ErrValidation)
	}

	// Ownership checks run before the transaction; they only read.
	accounts := make([]*models.LinkedAccount, 0, len(pc.AccountIDs))
	for _, accountID := range pc.AccountIDs {
		owned, err := s.la.CheckByUserID(ctx, accountID, userID)
		if err != nil {
			return 0, err
		}
		if !owned {
			return 0, fmt.Errorf("%w: account %d does not belong to user", repository.ErrValidation, accountID)
		}
		acc, err := s.la.GetByID(ctx, accountID)
		if err != nil {
			return 0, err
		}
		accounts = append(accounts, acc)
	}
	for _, assetID := range pc.AssetIDs {
		owned, err := s.ma.CheckByUserID(ctx, assetID, userID)
		if err != nil {
			return 0, err
		}
		if !owned {
			return 0, fmt.Errorf("%w: asset %d does not belong to user", repository.ErrValidation, assetID)
		}
	}

	postType := models.PostTypeSingle
	if len(pc.AssetIDs) > 1 {
		postType = models.PostTypeMultiple
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	post := models.ScheduledPost{
		UserID:      userID,
		PostType:    postType,
		Caption:     pc.Caption,
		Title:       pc.Title,
		ScheduledAt: scheduledAt,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, fmt.Errorf("error creating post: %w", err)
	}

	tasks := make([]*models.PublishTask, 0, len(accounts))
	for _, acc := range accounts {
		tasks = append(tasks, &models.PublishTask{
			PostID:      postID,
			AccountID:   acc.ID,
			Platform:    acc.Platform,
			ScheduledAt: scheduledAt,
		})
	}
	if err := s.tr.CreateBatch(ctx, tx, tasks); err != nil {
		return 0, fmt.Errorf("error creating publish tasks: %w", err)
	}

	for i, assetID := range pc.AssetIDs {
		pm := &models.PostMedia{PostID: postID, AssetID: assetID, DisplayOrder: i}
		if err := s.pm.Create(ctx, tx, pm); err != nil {
			return 0, fmt.Errorf("error attaching media: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("post enqueued", "post_id", postID, "tasks", len(tasks), "scheduled_at", scheduledAt)
	return postID, nil
}

// Cancel removes a post while it is still untouched. Once any task has
// been claimed the post runs to completion.
func (s *postService) Cancel(ctx context.Context, userID, postID int64) error {
	owned, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !owned {
		return repository.ErrNotFound
	}

	return s.pr.CancelTx(ctx, postID)
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	return s.pr.GetByUserID(ctx, userID)
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.ScheduledPost, []*models.PublishTask, error) {
	owned, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !owned {
		return nil, nil, repository.ErrNotFound
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.tr.ListByPostID(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	return post, tasks, nil
}
