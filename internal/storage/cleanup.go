package storage

import (
	"context"
	"fmt"
	"time"
)

// PruneTokenRequests removes ledger rows at or before cutoff. Rows older
// than the quota window no longer affect any decision.
func (s *SQLiteStorage) PruneTokenRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: cutoff cannot be zero", ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM token_requests
		WHERE requested_at <= ?`,
		cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune token requests: %w", err)
	}

	return result.RowsAffected()
}
