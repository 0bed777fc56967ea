package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	config "postpilot/configs"
	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/repository"
	"postpilot/pkg/utils"
)

// ErrRevoked means the account's refresh previously failed permanently.
// Callers must not attempt a platform call for this account.
var ErrRevoked = errors.New("service: account credentials revoked")

type CredentialService interface {
	// GetValidToken returns a decrypted, usable access token for the
	// account, refreshing it first when expiry is within the configured
	// margin. Returns ErrRevoked without any network call when the
	// account is flagged.
	GetValidToken(ctx context.Context, accountID int64) (string, *models.LinkedAccount, error)
	// RefreshAccount force-refreshes one account's credentials. Used by
	// the proactive refresh job.
	RefreshAccount(ctx context.Context, accountID int64) error
}

type credentialService struct {
	cfg      config.Config
	accounts repository.LinkedAccountRepository
	registry *platform.Registry

	// Refreshes are serialized per account so two workers never race
	// each other into refresh-token invalidation.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewCredentialService(cfg config.Config, accounts repository.LinkedAccountRepository, registry *platform.Registry) CredentialService {
	return &credentialService{
		cfg:      cfg,
		accounts: accounts,
		registry: registry,
		locks:    make(map[int64]*sync.Mutex),
	}
}

func (s *credentialService) GetValidToken(ctx context.Context, accountID int64) (string, *models.LinkedAccount, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", nil, err
	}
	if acc.Revoked {
		return "", nil, ErrRevoked
	}

	if time.Until(acc.TokenExpiresAt) > s.cfg.Pipeline.RefreshMargin {
		token, err := utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
		if err != nil {
			return "", nil, err
		}
		return token, acc, nil
	}

	acc, err = s.refresh(ctx, accountID)
	if err != nil {
		return "", nil, err
	}

	token, err := utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return "", nil, err
	}
	return token, acc, nil
}

func (s *credentialService) RefreshAccount(ctx context.Context, accountID int64) error {
	_, err := s.refresh(ctx, accountID)
	return err
}

func (s *credentialService) refresh(ctx context.Context, accountID int64) (*models.LinkedAccount, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read inside the lock: a concurrent caller may have finished
	// the refresh while we waited.
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Revoked {
		return nil, ErrRevoked
	}
	if time.Until(acc.TokenExpiresAt) > s.cfg.Pipeline.RefreshMargin {
		return acc, nil
	}

	adapter, ok := s.registry.Lookup(acc.Platform)
	if !ok {
		return nil, platform.Permanent(acc.Platform, "", "no adapter registered")
	}

	refreshToken, err := utils.Decrypt(acc.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	token, err := adapter.Refresh(ctx, refreshToken)
	if err != nil {
		if kind := platform.KindOf(err); kind == platform.KindRevoked || kind == platform.KindPermanent {
			slog.Info("marking account revoked after refresh failure",
				"account_id", accountID, "platform", acc.Platform)
			if markErr := s.accounts.MarkRevoked(ctx, accountID); markErr != nil {
				slog.Error(markErr.Error())
			}
		}
		return nil, err
	}

	encryptedAccess, err := utils.Encrypt([]byte(token.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}
	encryptedRefresh := ""
	if token.RefreshToken != "" {
		encryptedRefresh, err = utils.Encrypt([]byte(token.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return nil, err
		}
	}

	if err := s.accounts.SetToken(ctx, accountID, encryptedAccess, encryptedRefresh, token.ExpiresAt); err != nil {
		return nil, err
	}

	acc.AccessToken = encryptedAccess
	if encryptedRefresh != "" {
		acc.RefreshToken = encryptedRefresh
	}
	acc.TokenExpiresAt = token.ExpiresAt
	return acc, nil
}

func (s *credentialService) accountLock(accountID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	return lock
}
