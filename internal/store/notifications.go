package store

import (
	"context"
	"fmt"
)

// InsertNotificationIntent persists the intent to notify before any delivery
// attempt, so an operator can reconcile undelivered notifications later.
func (s *Store) InsertNotificationIntent(ctx context.Context, jobID, ownerID, downloadURL string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notification_intents (job_id, owner_id, download_url, delivered, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		RETURNING id
	`, jobID, ownerID, downloadURL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification intent: %w", err)
	}
	return id, nil
}

// MarkNotificationDelivered flags an intent as delivered.
func (s *Store) MarkNotificationDelivered(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_intents SET delivered = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return nil
}
