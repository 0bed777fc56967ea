// Package queue carries failure notifications to the notifier gateway
// over asynq. The pipeline's side of the contract is fire-and-forget:
// it enqueues one notification per permanently failed task and never
// retries an enqueue; redelivery to the gateway is asynq's job.
package queue

const TaskTypeNotifyFailure = "notify:failure"

type FailureNotificationPayload struct {
	UserID   int64  `json:"user_id"`
	PostID   int64  `json:"post_id"`
	Platform string `json:"platform"`
	Reason   string `json:"reason"`
}
