package service_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/repository"
	"postpilot/internal/service"
	"postpilot/pkg/backoff"
)

// ---- fakes ----

type fakePostRepo struct {
	mu    sync.Mutex
	posts map[int64]*models.ScheduledPost
}

func newFakePostRepo(posts ...*models.ScheduledPost) *fakePostRepo {
	r := &fakePostRepo{posts: make(map[int64]*models.ScheduledPost)}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (r *fakePostRepo) Create(_ context.Context, _ *sql.Tx, post *models.ScheduledPost) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post.ID = int64(len(r.posts) + 1)
	r.posts[post.ID] = post
	return post.ID, nil
}

func (r *fakePostRepo) GetByID(_ context.Context, id int64) (*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posts[id], nil
}

func (r *fakePostRepo) GetByUserID(_ context.Context, _ int64) ([]*models.ScheduledPost, error) {
	return nil, nil
}

func (r *fakePostRepo) CheckByUserID(_ context.Context, postID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[postID]
	return ok && post.UserID == userID, nil
}

func (r *fakePostRepo) UpdatePostStatus(_ context.Context, status string, postID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if post, ok := r.posts[postID]; ok {
		post.Status = status
	}
	return nil
}

func (r *fakePostRepo) CancelTx(_ context.Context, postID int64) error {
	return repository.ErrNotCancelable
}

type fakePostMediaRepo struct {
	medias map[int64][]*models.PostMedia
}

func (r *fakePostMediaRepo) Create(_ context.Context, _ *sql.Tx, pm *models.PostMedia) error {
	if r.medias == nil {
		r.medias = make(map[int64][]*models.PostMedia)
	}
	r.medias[pm.PostID] = append(r.medias[pm.PostID], pm)
	return nil
}

func (r *fakePostMediaRepo) ListByPostID(_ context.Context, postID int64) ([]*models.PostMedia, error) {
	return r.medias[postID], nil
}

type fakeAssetRepo struct {
	assets map[int64]*models.MediaAsset
}

func (r *fakeAssetRepo) GetByID(_ context.Context, id int64) (*models.MediaAsset, error) {
	asset, ok := r.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return asset, nil
}

func (r *fakeAssetRepo) CheckByUserID(_ context.Context, assetID, userID int64) (bool, error) {
	asset, ok := r.assets[assetID]
	return ok && asset.UserID == userID, nil
}

type fakeMediaResolver struct{}

func (fakeMediaResolver) PresignURL(_ context.Context, key string) (string, error) {
	return "https://media.test/" + key + "?sig=abc", nil
}

type fakeCredentials struct {
	mu      sync.Mutex
	token   string
	account *models.LinkedAccount
	err     error
	calls   int
}

func (f *fakeCredentials) GetValidToken(_ context.Context, _ int64) (string, *models.LinkedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", nil, f.err
	}
	return f.token, f.account, nil
}

func (f *fakeCredentials) RefreshAccount(_ context.Context, _ int64) error { return nil }

// scriptedAdapter returns the queued errors one by one, then succeeds.
type scriptedAdapter struct {
	mu       sync.Mutex
	platform string
	errs     []error
	publishN int
}

func (a *scriptedAdapter) Platform() string { return a.platform }

func (a *scriptedAdapter) Publish(_ context.Context, _ string, _ *platform.PublishRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publishN++
	if len(a.errs) == 0 {
		return nil
	}
	err := a.errs[0]
	a.errs = a.errs[1:]
	return err
}

func (a *scriptedAdapter) Refresh(_ context.Context, _ string) (*platform.Token, error) {
	return nil, platform.Permanent(a.platform, "", "refresh not scripted")
}

func (a *scriptedAdapter) publishCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publishN
}

type countingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *countingNotifier) NotifyFailure(_ context.Context, _, _ int64, platformID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, platformID)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// ---- harness ----

type publisherHarness struct {
	tasks    *repository.MemoryTaskRepository
	posts    *fakePostRepo
	notifier *countingNotifier
	creds    *fakeCredentials
	pub      *service.Publisher
}

func newPublisherHarness(t *testing.T, retryCeiling int, adapters ...platform.Adapter) *publisherHarness {
	t.Helper()

	post := &models.ScheduledPost{
		ID:       1,
		UserID:   7,
		PostType: models.PostTypeSingle,
		Caption:  "launch day",
		Title:    "Launch",
		Status:   models.PostStatusScheduled,
	}

	tasks := repository.NewMemoryTaskRepository()
	posts := newFakePostRepo(post)
	pm := &fakePostMediaRepo{medias: map[int64][]*models.PostMedia{
		1: {{PostID: 1, AssetID: 11}},
	}}
	ma := &fakeAssetRepo{assets: map[int64]*models.MediaAsset{
		11: {ID: 11, UserID: 7, ObjectKey: "videos/launch.mp4"},
	}}
	creds := &fakeCredentials{
		token:   "plain-token",
		account: &models.LinkedAccount{ID: 5, UserID: 7, AccountID: "acct-ref"},
	}
	notifier := &countingNotifier{}

	cfg := config.Pipeline{
		RetryCeiling:   retryCeiling,
		PublishTimeout: time.Second,
	}
	strategy := backoff.NewExponential(time.Millisecond, time.Second, 0)

	pub := service.NewPublisher(cfg, tasks, posts, pm, ma, fakeMediaResolver{}, creds,
		platform.NewRegistry(adapters...), notifier, strategy)

	return &publisherHarness{tasks: tasks, posts: posts, notifier: notifier, creds: creds, pub: pub}
}

func (h *publisherHarness) addTask(t *testing.T, platformID string) int64 {
	t.Helper()
	task := &models.PublishTask{
		PostID:      1,
		AccountID:   5,
		Platform:    platformID,
		Status:      models.TaskStatusScheduled,
		ScheduledAt: time.Now().Add(-time.Minute),
	}
	h.tasks.Add(task)
	return task.ID
}

// claimAndProcess drives one scheduler round for all currently due
// tasks, as of now.
func (h *publisherHarness) claimAndProcess(t *testing.T, now time.Time) int {
	t.Helper()
	claimed, err := h.tasks.ClaimDue(context.Background(), now, 100, "test-worker")
	require.NoError(t, err)
	for _, task := range claimed {
		h.pub.Process(context.Background(), task)
	}
	return len(claimed)
}

func (h *publisherHarness) taskState(t *testing.T, id int64) *models.PublishTask {
	t.Helper()
	task, err := h.tasks.GetByID(context.Background(), id)
	require.NoError(t, err)
	return task
}

// ---- tests ----

func TestPublisher_SuccessPublishes(t *testing.T) {
	adapter := &scriptedAdapter{platform: models.PlatformTiktok}
	h := newPublisherHarness(t, 3, adapter)
	taskID := h.addTask(t, models.PlatformTiktok)

	require.Equal(t, 1, h.claimAndProcess(t, time.Now()))

	task := h.taskState(t, taskID)
	require.Equal(t, models.TaskStatusPublished, task.Status)
	require.Equal(t, 1, task.AttemptCount)
	require.Nil(t, task.NextRetryAt)
	require.Equal(t, 0, h.notifier.count())

	post, _ := h.posts.GetByID(context.Background(), 1)
	require.Equal(t, models.PostStatusPosted, post.Status)
}

func TestPublisher_TransientThenSuccessAcrossPlatforms(t *testing.T) {
	tiktok := &scriptedAdapter{platform: models.PlatformTiktok}
	instagram := &scriptedAdapter{
		platform: models.PlatformInstagram,
		errs: []error{
			platform.Transient(models.PlatformInstagram, "4", "throttled"),
			platform.Transient(models.PlatformInstagram, "4", "throttled"),
		},
	}
	h := newPublisherHarness(t, 3, tiktok, instagram)
	tiktokTask := h.addTask(t, models.PlatformTiktok)
	igTask := h.addTask(t, models.PlatformInstagram)

	require.Equal(t, 2, h.claimAndProcess(t, time.Now()))
	require.Equal(t, models.TaskStatusPublished, h.taskState(t, tiktokTask).Status)
	require.Equal(t, models.TaskStatusRetryPending, h.taskState(t, igTask).Status)

	// Advance past next_retry_at for each remaining attempt.
	require.Equal(t, 1, h.claimAndProcess(t, time.Now().Add(time.Hour)))
	require.Equal(t, models.TaskStatusRetryPending, h.taskState(t, igTask).Status)

	require.Equal(t, 1, h.claimAndProcess(t, time.Now().Add(2*time.Hour)))

	task := h.taskState(t, igTask)
	require.Equal(t, models.TaskStatusPublished, task.Status)
	require.Equal(t, 3, task.AttemptCount)
	require.Equal(t, 0, h.notifier.count())

	post, _ := h.posts.GetByID(context.Background(), 1)
	require.Equal(t, models.PostStatusPosted, post.Status)
}

func TestPublisher_PolicyRejectionFailsImmediately(t *testing.T) {
	adapter := &scriptedAdapter{
		platform: models.PlatformTiktok,
		errs:     []error{platform.Permanent(models.PlatformTiktok, "spam_risk_too_many_posts", "rejected")},
	}
	h := newPublisherHarness(t, 3, adapter)
	taskID := h.addTask(t, models.PlatformTiktok)

	require.Equal(t, 1, h.claimAndProcess(t, time.Now()))

	task := h.taskState(t, taskID)
	require.Equal(t, models.TaskStatusFailedPermanent, task.Status)
	require.Equal(t, 1, task.AttemptCount)
	require.Equal(t, string(platform.KindPermanent), task.LastErrorKind)
	require.Nil(t, task.NextRetryAt)
	require.Equal(t, 1, h.notifier.count())

	// No retry is ever scheduled for it.
	require.Equal(t, 0, h.claimAndProcess(t, time.Now().Add(time.Hour)))

	post, _ := h.posts.GetByID(context.Background(), 1)
	require.Equal(t, models.PostStatusFailed, post.Status)
}

func TestPublisher_RetryCeilingCapsAttempts(t *testing.T) {
	adapter := &scriptedAdapter{
		platform: models.PlatformTiktok,
		errs: []error{
			platform.Transient(models.PlatformTiktok, "", "timeout"),
			platform.Transient(models.PlatformTiktok, "", "timeout"),
			platform.Transient(models.PlatformTiktok, "", "timeout"),
			platform.Transient(models.PlatformTiktok, "", "timeout"),
		},
	}
	h := newPublisherHarness(t, 3, adapter)
	taskID := h.addTask(t, models.PlatformTiktok)

	now := time.Now()
	for round := 0; round < 5; round++ {
		if h.claimAndProcess(t, now) == 0 {
			break
		}
		now = now.Add(time.Hour)
	}

	task := h.taskState(t, taskID)
	require.Equal(t, models.TaskStatusFailedPermanent, task.Status)
	require.Equal(t, 3, task.AttemptCount, "attempt_count must never exceed the ceiling")
	require.Equal(t, 3, adapter.publishCalls())
	require.Equal(t, 1, h.notifier.count())
}

func TestPublisher_RevokedCredentialsFailFast(t *testing.T) {
	adapter := &scriptedAdapter{platform: models.PlatformTiktok}
	h := newPublisherHarness(t, 3, adapter)
	h.creds.err = service.ErrRevoked
	taskID := h.addTask(t, models.PlatformTiktok)

	require.Equal(t, 1, h.claimAndProcess(t, time.Now()))

	task := h.taskState(t, taskID)
	require.Equal(t, models.TaskStatusFailedPermanent, task.Status)
	require.Equal(t, string(platform.KindRevoked), task.LastErrorKind)
	require.Equal(t, 0, adapter.publishCalls(), "revoked account must not hit the platform")
	require.Equal(t, 1, h.notifier.count())
}

func TestPublisher_UnknownPlatformIsPermanent(t *testing.T) {
	h := newPublisherHarness(t, 3)
	taskID := h.addTask(t, "threads")

	require.Equal(t, 1, h.claimAndProcess(t, time.Now()))

	task := h.taskState(t, taskID)
	require.Equal(t, models.TaskStatusFailedPermanent, task.Status)
	require.Equal(t, 1, h.notifier.count())
}

func TestPublisher_StaleClaimIsNoOp(t *testing.T) {
	adapter := &scriptedAdapter{platform: models.PlatformTiktok}
	h := newPublisherHarness(t, 3, adapter)
	taskID := h.addTask(t, models.PlatformTiktok)

	claimed, err := h.tasks.ClaimDue(context.Background(), time.Now(), 10, "worker-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// The watchdog reclaims the task before the worker reports.
	reclaimed, err := h.tasks.ReclaimStale(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, reclaimed)

	h.pub.Process(context.Background(), claimed[0])

	task := h.taskState(t, taskID)
	require.Equal(t, models.TaskStatusScheduled, task.Status, "stale report must not change state")
	require.Equal(t, 0, h.notifier.count())
}
