package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"report-pipeline/internal/models"
)

// ErrTokenNotFound is returned for unknown download tokens. Redemption maps
// it, together with expiry, onto one generic caller-facing error so the
// response never reveals whether a handle ever existed.
var ErrTokenNotFound = errors.New("download token not found")

// InsertToken stores a freshly issued download token.
func (s *Store) InsertToken(ctx context.Context, t models.DownloadToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO download_tokens (token, job_id, owner_id, scope_id, target_url, expires_at, access_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`, t.Token, t.JobID, t.OwnerID, t.ScopeID, t.TargetURL, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert download token: %w", err)
	}
	return nil
}

// GetToken fetches a token row by its handle.
func (s *Store) GetToken(ctx context.Context, token string) (models.DownloadToken, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT token, job_id, owner_id, scope_id, target_url, expires_at, access_count, last_access_at, created_at
		FROM download_tokens WHERE token = $1
	`, token)

	var t models.DownloadToken
	var lastAccess pgtype.Timestamptz
	err := row.Scan(&t.Token, &t.JobID, &t.OwnerID, &t.ScopeID, &t.TargetURL,
		&t.ExpiresAt, &t.AccessCount, &lastAccess, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DownloadToken{}, ErrTokenNotFound
	}
	if err != nil {
		return models.DownloadToken{}, fmt.Errorf("scan download token: %w", err)
	}
	t.LastAccessAt = timePtr(lastAccess)
	return t, nil
}

// TouchToken records a successful redemption. Redemption has no other side
// effects, so repeating it is safe.
func (s *Store) TouchToken(ctx context.Context, token string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE download_tokens
		SET access_count = access_count + 1, last_access_at = $2
		WHERE token = $1
	`, token, at)
	if err != nil {
		return fmt.Errorf("touch download token: %w", err)
	}
	return nil
}

// DeleteExpiredTokens removes tokens past expiry. Deletion is idempotent and
// safe to race with redemption: a concurrent redeem either sees the row
// (and rejects it as expired) or does not see it at all.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM download_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
