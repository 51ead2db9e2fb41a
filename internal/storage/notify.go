package storage

import (
	"context"
	"fmt"
)

// ChannelReviews carries the ID of each newly queued review so external
// tooling can LISTEN instead of polling.
const ChannelReviews = "ruikei_reviews"

// Notify sends a notification on the specified channel.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	_, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}
