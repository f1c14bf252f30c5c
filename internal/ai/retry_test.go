package ai_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fable-server/internal/ai"
)

func TestDoWithRetries_SucceedsAfterFailure(t *testing.T) {
	calls := 0
	result, err := ai.DoWithRetries(context.Background(), zap.NewNop(), 3, time.Second,
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 2 {
				return "", errors.New("transient failure")
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestDoWithRetries_ExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("model unavailable")
	calls := 0
	result, err := ai.DoWithRetries(context.Background(), zap.NewNop(), 3, time.Second,
		func(ctx context.Context) (string, error) {
			calls++
			return "", wantErr
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Empty(t, result)
	assert.Equal(t, 3, calls)
}

func TestDoWithRetries_AttemptTimeoutIsRetried(t *testing.T) {
	calls := 0
	result, err := ai.DoWithRetries(context.Background(), zap.NewNop(), 2, 10*time.Millisecond,
		func(ctx context.Context) (int, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return 42, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 2, calls)
}

func TestDoWithRetries_StopsWhenParentContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := ai.DoWithRetries(ctx, zap.NewNop(), 5, time.Second,
		func(ctx context.Context) (string, error) {
			calls++
			cancel()
			return "", ctx.Err()
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithRetries_AtLeastOneAttempt(t *testing.T) {
	calls := 0
	result, err := ai.DoWithRetries(context.Background(), zap.NewNop(), 0, time.Second,
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}
