package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
)

// Worker delivers queued notifications to the gateway webhook. The
// gateway renders and sends the actual email; we only hand over the
// facts.
type Worker struct {
	notifierURL string
	client      *http.Client
}

func NewWorker(notifierURL string) *Worker {
	return &Worker{
		notifierURL: notifierURL,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Worker) HandleNotifyFailureTask(ctx context.Context, task *asynq.Task) error {
	var payload FailureNotificationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal notification payload: %v: %w", err, asynq.SkipRetry)
	}

	if w.notifierURL == "" {
		slog.Warn("notifier gateway not configured; dropping notification",
			"post_id", payload.PostID, "platform", payload.Platform)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.notifierURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier gateway returned status %d", resp.StatusCode)
	}

	slog.Info("failure notification delivered", "post_id", payload.PostID, "platform", payload.Platform)
	return nil
}
