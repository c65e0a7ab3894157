package billing

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string, freeCredits int64) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(freeCredits), nil
	}
	return NewPostgresStore(ctx, databaseURL, freeCredits)
}
