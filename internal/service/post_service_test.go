package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"postpilot/internal/models"
	"postpilot/internal/repository"
	"postpilot/internal/service"
	"postpilot/internal/transfer"
)

// newPostService wires the service with fakes. The *sql.DB is nil; every
// case here must fail validation before the transaction starts.
func newPostService(posts *fakePostRepo) service.PostService {
	accounts := newFakeAccountRepo(&models.LinkedAccount{
		ID:       5,
		UserID:   7,
		Platform: models.PlatformTiktok,
	})
	assets := &fakeAssetRepo{assets: map[int64]*models.MediaAsset{
		11: {ID: 11, UserID: 7, ObjectKey: "videos/launch.mp4"},
	}}
	return service.NewPostService(nil, posts, repository.NewMemoryTaskRepository(), accounts, assets, &fakePostMediaRepo{})
}

func validCreation() *transfer.PostCreation {
	return &transfer.PostCreation{
		Caption:     "launch day",
		Title:       "Launch",
		ScheduledAt: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		AccountIDs:  []int64{5},
		AssetIDs:    []int64{11},
	}
}

func TestPostService_EnqueueValidation(t *testing.T) {
	svc := newPostService(newFakePostRepo())

	tests := []struct {
		name   string
		mutate func(pc *transfer.PostCreation) *transfer.PostCreation
	}{
		{"nil request", func(_ *transfer.PostCreation) *transfer.PostCreation {
			return nil
		}},
		{"empty caption", func(pc *transfer.PostCreation) *transfer.PostCreation {
			pc.Caption = ""
			return pc
		}},
		{"no accounts", func(pc *transfer.PostCreation) *transfer.PostCreation {
			pc.AccountIDs = nil
			return pc
		}},
		{"no assets", func(pc *transfer.PostCreation) *transfer.PostCreation {
			pc.AssetIDs = nil
			return pc
		}},
		{"malformed scheduled_at", func(pc *transfer.PostCreation) *transfer.PostCreation {
			pc.ScheduledAt = "tomorrow at noon"
			return pc
		}},
		{"scheduled_at in the past", func(pc *transfer.PostCreation) *transfer.PostCreation {
			pc.ScheduledAt = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
			return pc
		}},
		{"account not owned", func(pc *transfer.PostCreation) *transfer.PostCreation {
			pc.AccountIDs = []int64{42}
			return pc
		}},
		{"asset not owned", func(pc *transfer.PostCreation) *transfer.PostCreation {
			pc.AssetIDs = []int64{99}
			return pc
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Enqueue(context.Background(), 7, tt.mutate(validCreation()))
			require.ErrorIs(t, err, repository.ErrValidation)
		})
	}
}

func TestPostService_EnqueueAcceptsOffsetTimezone(t *testing.T) {
	svc := newPostService(newFakePostRepo())

	pc := validCreation()
	pc.ScheduledAt = time.Now().Add(-time.Hour).In(time.FixedZone("", 5*3600)).Format(time.RFC3339)

	// Still in the past after normalizing to UTC, whatever the offset.
	_, err := svc.Enqueue(context.Background(), 7, pc)
	require.ErrorIs(t, err, repository.ErrValidation)
}

func TestPostService_CancelNotOwned(t *testing.T) {
	posts := newFakePostRepo(&models.ScheduledPost{ID: 1, UserID: 7})
	svc := newPostService(posts)

	err := svc.Cancel(context.Background(), 99, 1)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostService_CancelAfterClaimRefused(t *testing.T) {
	posts := newFakePostRepo(&models.ScheduledPost{ID: 1, UserID: 7})
	svc := newPostService(posts)

	// The fake post repo refuses every cancel, standing in for a post
	// whose tasks already left scheduled.
	err := svc.Cancel(context.Background(), 7, 1)
	require.ErrorIs(t, err, repository.ErrNotCancelable)
}

func TestPostService_PostInfoNotOwned(t *testing.T) {
	posts := newFakePostRepo(&models.ScheduledPost{ID: 1, UserID: 7})
	svc := newPostService(posts)

	_, _, err := svc.PostInfo(context.Background(), 1, 99)
	require.ErrorIs(t, err, repository.ErrNotFound)
}
