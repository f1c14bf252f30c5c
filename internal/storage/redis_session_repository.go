package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fable-server/internal/models"
)

const sessionKeyPrefix = "session_state:"

// Compile-time check to ensure redisSessionRepository implements SessionRepository
var _ SessionRepository = (*redisSessionRepository)(nil)

type redisSessionRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSessionRepository creates a Redis-backed SessionRepository. States
// are stored as one JSON document per session under session_state:{id}.
func NewRedisSessionRepository(client *redis.Client, logger *zap.Logger) SessionRepository {
	return &redisSessionRepository{
		client: client,
		logger: logger.Named("RedisSessionRepo"),
	}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// Get fetches the session state, returning a fresh empty state when the key
// is absent.
func (r *redisSessionRepository) Get(ctx context.Context, sessionID string) (*models.SessionState, error) {
	r.logger.Debug("Fetching session state", zap.String("sessionID", sessionID))

	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewSessionState(), nil
	}
	if err != nil {
		r.logger.Error("Failed to fetch session state from redis", zap.String("sessionID", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch session state: %w", err)
	}

	state := models.NewSessionState()
	if err := json.Unmarshal(data, state); err != nil {
		r.logger.Error("Failed to decode stored session state", zap.String("sessionID", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return state, nil
}

// Set stores the full state, replacing any prior value (last write wins).
func (r *redisSessionRepository) Set(ctx context.Context, sessionID string, state *models.SessionState) error {
	r.logger.Debug("Saving session state", zap.String("sessionID", sessionID))

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(sessionID), data, 0).Err(); err != nil {
		r.logger.Error("Failed to save session state to redis", zap.String("sessionID", sessionID), zap.Error(err))
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// Reset removes the stored state for a session.
func (r *redisSessionRepository) Reset(ctx context.Context, sessionID string) error {
	r.logger.Debug("Resetting session state", zap.String("sessionID", sessionID))

	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		r.logger.Error("Failed to delete session state from redis", zap.String("sessionID", sessionID), zap.Error(err))
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}
