package download

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"report-pipeline/internal/models"
	"report-pipeline/internal/store"
)

type fakeTokenStore struct {
	tokens map[string]models.DownloadToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string]models.DownloadToken{}}
}

func (f *fakeTokenStore) InsertToken(_ context.Context, t models.DownloadToken) error {
	f.tokens[t.Token] = t
	return nil
}

func (f *fakeTokenStore) GetToken(_ context.Context, token string) (models.DownloadToken, error) {
	t, ok := f.tokens[token]
	if !ok {
		return models.DownloadToken{}, store.ErrTokenNotFound
	}
	return t, nil
}

func (f *fakeTokenStore) TouchToken(_ context.Context, token string, at time.Time) error {
	t := f.tokens[token]
	t.AccessCount++
	t.LastAccessAt = &at
	f.tokens[token] = t
	return nil
}

func (f *fakeTokenStore) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for k, t := range f.tokens {
		if t.Expired(now) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

var testJob = models.Job{ID: "job-1", OwnerID: "owner-1", ScopeID: "scope-1"}

func TestIssueCapsExpiryAtTargetExpiry(t *testing.T) {
	ts := newFakeTokenStore()
	svc := NewService(ts, 24*time.Hour, zerolog.Nop())

	targetExpiry := time.Now().Add(time.Hour)
	tok, err := svc.Issue(context.Background(), testJob, "https://bucket/signed", targetExpiry)
	require.NoError(t, err)
	require.False(t, tok.ExpiresAt.After(targetExpiry), "token must not outlive the URL it wraps")
	require.GreaterOrEqual(t, len(tok.Token), 32, "24 random bytes base64url-encode to 32 chars")
}

func TestIssueRejectsExpiredTarget(t *testing.T) {
	svc := NewService(newFakeTokenStore(), 24*time.Hour, zerolog.Nop())
	_, err := svc.Issue(context.Background(), testJob, "https://bucket/signed", time.Now().Add(-time.Minute))
	require.Error(t, err)
}

func TestRedeemTwiceIncrementsAccessCount(t *testing.T) {
	ts := newFakeTokenStore()
	svc := NewService(ts, time.Hour, zerolog.Nop())

	tok, err := svc.Issue(context.Background(), testJob, "https://bucket/signed", time.Now().Add(2*time.Hour))
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		url, err := svc.Redeem(context.Background(), tok.Token)
		require.NoError(t, err)
		require.Equal(t, "https://bucket/signed", url)
		require.EqualValues(t, i, ts.tokens[tok.Token].AccessCount)
	}
}

func TestRedeemExpiredOrUnknownIsGeneric(t *testing.T) {
	ts := newFakeTokenStore()
	svc := NewService(ts, time.Hour, zerolog.Nop())

	_, err := svc.Redeem(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrLinkInvalid)

	expired := models.DownloadToken{
		Token:     "expired-token",
		JobID:     "job-2",
		TargetURL: "https://bucket/old",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, ts.InsertToken(context.Background(), expired))

	_, err = svc.Redeem(context.Background(), "expired-token")
	require.ErrorIs(t, err, ErrLinkInvalid, "expired and unknown handles fail identically")
}

func TestSweepDeletesOnlyExpired(t *testing.T) {
	ts := newFakeTokenStore()
	svc := NewService(ts, time.Hour, zerolog.Nop())

	live, err := svc.Issue(context.Background(), testJob, "https://bucket/live", time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, ts.InsertToken(context.Background(), models.DownloadToken{
		Token:     "dead",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	svc.SweepExpired(context.Background())

	_, ok := ts.tokens["dead"]
	require.False(t, ok)
	_, ok = ts.tokens[live.Token]
	require.True(t, ok)
}
