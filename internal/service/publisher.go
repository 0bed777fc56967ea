package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/repository"
	"postpilot/pkg/backoff"
)

// FailureNotifier is the outbound edge to the notification gateway.
// Delivery and formatting are the gateway's problem; the pipeline fires
// exactly one call per permanently failed task and does not retry it.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, userID, postID int64, platformID, reason string) error
}

// Publisher executes one publish attempt for one claimed task and
// records the outcome. It never returns an error to the dispatcher;
// every failure is absorbed into task state.
type Publisher struct {
	cfg      config.Pipeline
	tasks    repository.TaskRepository
	posts    repository.PostRepository
	pm       repository.PostMediaRepository
	ma       repository.MediaAssetRepository
	media    MediaResolver
	creds    CredentialService
	registry *platform.Registry
	notifier FailureNotifier
	backoff  backoff.Strategy
}

func NewPublisher(
	cfg config.Pipeline,
	tasks repository.TaskRepository,
	posts repository.PostRepository,
	pm repository.PostMediaRepository,
	ma repository.MediaAssetRepository,
	media MediaResolver,
	creds CredentialService,
	registry *platform.Registry,
	notifier FailureNotifier,
	strategy backoff.Strategy) *Publisher {
	return &Publisher{
		cfg:      cfg,
		tasks:    tasks,
		posts:    posts,
		pm:       pm,
		ma:       ma,
		media:    media,
		creds:    creds,
		registry: registry,
		notifier: notifier,
		backoff:  strategy,
	}
}

// Process drives one claimed task to its next state. The task must have
// been claimed by ClaimDue; the (status, version) pair guards every
// transition, so a claim lost to the watchdog makes the report a no-op.
func (p *Publisher) Process(ctx context.Context, task *models.PublishTask) {
	attempt := task.AttemptCount + 1
	publishErr := p.attempt(ctx, task)
	now := time.Now()

	if publishErr == nil {
		if err := p.tasks.MarkPublished(ctx, task.ID, task.Version, attempt, now); err != nil {
			if errors.Is(err, repository.ErrStaleClaim) {
				slog.Warn("lost claim before publish outcome", "task_id", task.ID)
				return
			}
			slog.Error("failed to record publish outcome", "task_id", task.ID, "error", err)
			return
		}
		slog.Info("task published", "task_id", task.ID, "post_id", task.PostID, "platform", task.Platform, "attempt", attempt)
		p.rollupPost(ctx, task.PostID)
		return
	}

	kind := platform.KindOf(publishErr)
	if errors.Is(publishErr, ErrRevoked) {
		kind = platform.KindRevoked
	}

	if kind == platform.KindTransient && attempt < p.cfg.RetryCeiling {
		nextRetry := now.Add(p.backoff.Delay(attempt))
		err := p.tasks.MarkRetryPending(ctx, task.ID, task.Version, attempt, string(kind), publishErr.Error(), nextRetry, now)
		if err != nil {
			if errors.Is(err, repository.ErrStaleClaim) {
				slog.Warn("lost claim before retry outcome", "task_id", task.ID)
				return
			}
			slog.Error("failed to record retry outcome", "task_id", task.ID, "error", err)
			return
		}
		slog.Info("task scheduled for retry",
			"task_id", task.ID, "platform", task.Platform, "attempt", attempt, "next_retry_at", nextRetry, "error", publishErr)
		return
	}

	// Permanent failure, or transient at the retry ceiling.
	err := p.tasks.MarkFailedPermanent(ctx, task.ID, task.Version, attempt, string(kind), publishErr.Error(), now)
	if err != nil {
		if errors.Is(err, repository.ErrStaleClaim) {
			slog.Warn("lost claim before failure outcome", "task_id", task.ID)
			return
		}
		slog.Error("failed to record failure outcome", "task_id", task.ID, "error", err)
		return
	}
	slog.Info("task failed permanently",
		"task_id", task.ID, "post_id", task.PostID, "platform", task.Platform, "attempt", attempt, "error", publishErr)

	// The notification fires only after the terminal transition
	// succeeded, so a duplicate report can never notify twice.
	p.notify(ctx, task, publishErr.Error())
	p.rollupPost(ctx, task.PostID)
}

func (p *Publisher) attempt(ctx context.Context, task *models.PublishTask) error {
	adapter, ok := p.registry.Lookup(task.Platform)
	if !ok {
		return platform.Permanent(task.Platform, "", "no adapter registered")
	}

	token, acc, err := p.creds.GetValidToken(ctx, task.AccountID)
	if err != nil {
		return err
	}

	post, err := p.posts.GetByID(ctx, task.PostID)
	if err != nil {
		return platform.Wrap(task.Platform, err)
	}
	if post == nil {
		return platform.Permanent(task.Platform, "", "post no longer exists")
	}

	mediaURLs, err := p.resolveMedia(ctx, task.PostID)
	if err != nil {
		return platform.Wrap(task.Platform, err)
	}

	req := &platform.PublishRequest{
		Caption:    post.Caption,
		Title:      post.Title,
		PostType:   post.PostType,
		AccountRef: acc.AccountID,
		MediaURLs:  mediaURLs,
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	return adapter.Publish(publishCtx, token, req)
}

func (p *Publisher) resolveMedia(ctx context.Context, postID int64) ([]string, error) {
	medias, err := p.pm.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(medias))
	for _, pm := range medias {
		asset, err := p.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, err
		}
		mediaURL, err := p.media.PresignURL(ctx, asset.ObjectKey)
		if err != nil {
			return nil, err
		}
		urls = append(urls, mediaURL)
	}
	return urls, nil
}

func (p *Publisher) notify(ctx context.Context, task *models.PublishTask, reason string) {
	post, err := p.posts.GetByID(ctx, task.PostID)
	if err != nil || post == nil {
		slog.Error("cannot resolve post for failure notification", "post_id", task.PostID, "error", err)
		return
	}
	if err := p.notifier.NotifyFailure(ctx, post.UserID, task.PostID, task.Platform, reason); err != nil {
		// Fire and forget: the gateway owns delivery, we only log.
		slog.Error("failure notification not accepted", "task_id", task.ID, "error", err)
	}
}

// rollupPost folds terminal task states into the post status once the
// last task finishes.
func (p *Publisher) rollupPost(ctx context.Context, postID int64) {
	open, failed, err := p.tasks.TerminalCounts(ctx, postID)
	if err != nil {
		slog.Error("failed to compute post rollup", "post_id", postID, "error", err)
		return
	}
	if open > 0 {
		return
	}

	status := models.PostStatusPosted
	if failed > 0 {
		status = models.PostStatusFailed
	}
	if err := p.posts.UpdatePostStatus(ctx, status, postID); err != nil {
		slog.Error("failed to update post status", "post_id", postID, "error", err)
	}
}
