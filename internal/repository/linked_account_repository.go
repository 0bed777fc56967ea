package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"postpilot/internal/models"
)

type LinkedAccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.LinkedAccount, error)
	ListInfoByUserID(ctx context.Context, userID int64) ([]*models.LinkedAccount, error)
	ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.LinkedAccount, error)
	CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error)
	SetToken(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error
	MarkRevoked(ctx context.Context, accountID int64) error
}

type linkedAccountRepository struct {
	db *sql.DB
}

func NewLinkedAccountRepository(db *sql.DB) LinkedAccountRepository {
	return &linkedAccountRepository{db: db}
}

const accountColumns = `id, user_id, platform, account_id, account_name, account_username,
		profile_picture_url, access_token, refresh_token, token_expires_at, revoked,
		created_at, updated_at`

func (r *linkedAccountRepository) GetByID(ctx context.Context, id int64) (*models.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_accounts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var la models.LinkedAccount
	err := row.Scan(&la.ID, &la.UserID, &la.Platform, &la.AccountID, &la.AccountName,
		&la.AccountUsername, &la.ProfilePicture, &la.AccessToken, &la.RefreshToken,
		&la.TokenExpiresAt, &la.Revoked, &la.CreatedAt, &la.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &la, nil
}

func (r *linkedAccountRepository) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.LinkedAccount, error) {
	query := `SELECT id, account_name, profile_picture_url, platform FROM linked_accounts WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.LinkedAccount
	for rows.Next() {
		var la models.LinkedAccount
		err := rows.Scan(&la.ID, &la.AccountName, &la.ProfilePicture, &la.Platform)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, &la)
	}
	return accounts, rows.Err()
}

// ListExpiring returns non-revoked accounts whose token expires inside
// the window, or has already expired.
func (r *linkedAccountRepository) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + `
			FROM linked_accounts
			WHERE revoked = FALSE
			AND ((token_expires_at BETWEEN $1 AND $2) OR token_expires_at < $1)`
	rows, err := r.db.QueryContext(ctx, query, initialTime, finalTime)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.LinkedAccount
	for rows.Next() {
		var la models.LinkedAccount
		err := rows.Scan(&la.ID, &la.UserID, &la.Platform, &la.AccountID, &la.AccountName,
			&la.AccountUsername, &la.ProfilePicture, &la.AccessToken, &la.RefreshToken,
			&la.TokenExpiresAt, &la.Revoked, &la.CreatedAt, &la.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, &la)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return accounts, nil
}

func (r *linkedAccountRepository) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	query := "SELECT 1 FROM linked_accounts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, accountID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// SetToken rotates the stored credentials. Empty strings leave the
// existing value in place, since some platforms do not return a new
// refresh token on every refresh.
func (r *linkedAccountRepository) SetToken(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE linked_accounts
		SET
			access_token = COALESCE(NULLIF($2, ''), access_token),
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, accountID, accessToken, refreshToken, expiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkedAccountRepository) MarkRevoked(ctx context.Context, accountID int64) error {
	query := `
		UPDATE linked_accounts
		SET revoked = TRUE,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
