package download

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"report-pipeline/internal/models"
	"report-pipeline/internal/store"
)

// ErrLinkInvalid is the single caller-facing error for unknown, expired, or
// otherwise unusable handles. One error for all cases, so a response never
// reveals whether a handle ever existed.
var ErrLinkInvalid = errors.New("link invalid or expired")

// tokenBytes gives 192 bits of entropy, the floor for a handle that stands
// in for a credential-bearing URL.
const tokenBytes = 24

// TokenStore is the persistence seam for download tokens.
type TokenStore interface {
	InsertToken(ctx context.Context, t models.DownloadToken) error
	GetToken(ctx context.Context, token string) (models.DownloadToken, error)
	TouchToken(ctx context.Context, token string, at time.Time) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Service issues and redeems opaque download handles. Presigned storage URLs
// carry fixed-format signature parameters that link-rewriting intermediaries
// (mail "safe link" scanners) corrupt; only the opaque handle ever leaves the
// service, and it resolves server-side at click time.
type Service struct {
	tokens   TokenStore
	tokenTTL time.Duration
	logger   zerolog.Logger
}

func NewService(tokens TokenStore, tokenTTL time.Duration, logger zerolog.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{tokens: tokens, tokenTTL: tokenTTL, logger: logger}
}

// Issue creates a token wrapping targetURL. The token's expiry is capped at
// targetExpiry: a handle must never outlive the resource it points to.
func (s *Service) Issue(ctx context.Context, job models.Job, targetURL string, targetExpiry time.Time) (models.DownloadToken, error) {
	now := time.Now()
	expiry := now.Add(s.tokenTTL)
	if targetExpiry.Before(expiry) {
		expiry = targetExpiry
	}
	if !expiry.After(now) {
		return models.DownloadToken{}, fmt.Errorf("target url already expired")
	}

	handle, err := newHandle()
	if err != nil {
		return models.DownloadToken{}, err
	}

	token := models.DownloadToken{
		Token:     handle,
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		ScopeID:   job.ScopeID,
		TargetURL: targetURL,
		ExpiresAt: expiry,
		CreatedAt: now,
	}
	if err := s.tokens.InsertToken(ctx, token); err != nil {
		return models.DownloadToken{}, err
	}
	return token, nil
}

// Redeem resolves a handle to its target URL. Redemption is repeatable; its
// only side effect is bumping the access counter.
func (s *Service) Redeem(ctx context.Context, handle string) (string, error) {
	t, err := s.tokens.GetToken(ctx, handle)
	if errors.Is(err, store.ErrTokenNotFound) {
		return "", ErrLinkInvalid
	}
	if err != nil {
		return "", fmt.Errorf("load download token: %w", err)
	}
	if t.Expired(time.Now()) {
		return "", ErrLinkInvalid
	}
	if err := s.tokens.TouchToken(ctx, handle, time.Now()); err != nil {
		// The redirect still works; the counter is bookkeeping.
		s.logger.Warn().Err(err).Str("job_id", t.JobID).Msg("failed to record token access")
	}
	return t.TargetURL, nil
}

// SweepExpired deletes tokens past expiry. Safe to race with redemption:
// deletion of an already-deleted row is a no-op.
func (s *Service) SweepExpired(ctx context.Context) {
	n, err := s.tokens.DeleteExpiredTokens(ctx, time.Now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("download token sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("swept expired download tokens")
	}
}

func newHandle() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
