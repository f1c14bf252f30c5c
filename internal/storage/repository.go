package storage

import (
	"context"

	"fable-server/internal/models"
)

// SessionRepository persists the full narrative state of a session, keyed by
// session id. Implementations must be safe for concurrent use across
// different sessions; a single session is driven by at most one in-flight
// turn at a time, so no per-session locking is provided here.
type SessionRepository interface {
	// Get returns the stored state for the session, or a freshly
	// constructed empty state if none exists. A missing key is not an
	// error.
	Get(ctx context.Context, sessionID string) (*models.SessionState, error)

	// Set persists the full state, replacing any prior value.
	Set(ctx context.Context, sessionID string, state *models.SessionState) error

	// Reset deletes the stored state for the session.
	Reset(ctx context.Context, sessionID string) error
}
