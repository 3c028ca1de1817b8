package artifact

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps artifacts on the local filesystem. It exists for dev and
// tests; its "presigned" URLs are plain file URLs with the requested expiry.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) *LocalStore {
	if baseDir == "" {
		baseDir = "./artifacts"
	}
	return &LocalStore{baseDir: baseDir}
}

func (l *LocalStore) Put(_ context.Context, scope, jobID, filename string, body []byte, _ string) (string, error) {
	rel := filepath.Join(sanitizeSegment(scope), sanitizeSegment(jobID), sanitizeSegment(filename))
	full := filepath.Join(l.baseDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dirs: %w", err)
	}
	if err := os.WriteFile(full, body, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return "file://" + rel, nil
}

func (l *LocalStore) Get(_ context.Context, location string) ([]byte, string, error) {
	rel, ok := strings.CutPrefix(location, "file://")
	if !ok {
		return nil, "", fmt.Errorf("not a local location: %s", location)
	}
	body, err := os.ReadFile(filepath.Join(l.baseDir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(rel))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return body, contentType, nil
}

func (l *LocalStore) Presign(_ context.Context, location string, ttl time.Duration) (string, time.Time, error) {
	if !strings.HasPrefix(location, "file://") {
		return "", time.Time{}, fmt.Errorf("not a local location: %s", location)
	}
	return location, time.Now().Add(ttl), nil
}
