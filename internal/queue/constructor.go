package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Notifier implements the pipeline's FailureNotifier edge by enqueuing
// notification tasks to Redis.
type Notifier struct {
	client *asynq.Client
}

func NewNotifier(client *asynq.Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) NotifyFailure(ctx context.Context, userID, postID int64, platform, reason string) error {
	payload, err := json.Marshal(FailureNotificationPayload{
		UserID:   userID,
		PostID:   postID,
		Platform: platform,
		Reason:   reason,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeNotifyFailure, payload)
	if _, err := n.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return err
	}

	slog.Info("failure notification enqueued", "post_id", postID, "platform", platform)
	return nil
}
