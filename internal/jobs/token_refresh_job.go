package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"postpilot/internal/models"
	"postpilot/internal/repository"
	"postpilot/internal/service"
)

// TokenRefreshJob proactively refreshes credentials expiring in the
// near future so publish attempts rarely pay refresh latency. Refresh
// itself goes through the credential service, which serializes per
// account against the publish path.
type TokenRefreshJob struct {
	la    repository.LinkedAccountRepository
	creds service.CredentialService
}

func NewTokenRefreshJob(la repository.LinkedAccountRepository, creds service.CredentialService) *TokenRefreshJob {
	return &TokenRefreshJob{la: la, creds: creds}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	accounts, err := c.la.ListExpiring(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.LinkedAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.creds.RefreshAccount(ctx, acc.ID); err != nil {
				slog.Info("unable to refresh tokens",
					"account_id", acc.ID, "platform", acc.Platform, "error", err)
			}
		}(acc)
	}

	wg.Wait()
}
