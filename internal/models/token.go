package models

import "time"

// DownloadToken maps an opaque public handle to a credential-bearing
// presigned URL. The token must never outlive the URL it wraps.
type DownloadToken struct {
	Token        string     `json:"token"`
	JobID        string     `json:"job_id"`
	OwnerID      string     `json:"owner_id"`
	ScopeID      string     `json:"scope_id"`
	TargetURL    string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AccessCount  int64      `json:"access_count"`
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t DownloadToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
