package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fable-server/internal/ai"
	"fable-server/internal/models"
)

// EndingCheckResult is the schema requested from the ending evaluator. The
// minimum-length override for good endings is applied by the turn
// processor, not here.
type EndingCheckResult struct {
	EndingReached bool           `json:"ending_reached"`
	Ending        *models.Ending `json:"ending"`
}

type endingCheckInput struct {
	History  string `json:"history"`
	Endings  string `json:"endings"`
	Language string `json:"language"`
}

// EndingEvaluator asks the model whether any of the frame's ending
// conditions are satisfied by the choice history.
type EndingEvaluator struct {
	invoker ai.StructuredInvoker
	prompts *ai.Prompts
	cfg     Config
	logger  *zap.Logger
}

// NewEndingEvaluator creates an EndingEvaluator.
func NewEndingEvaluator(invoker ai.StructuredInvoker, prompts *ai.Prompts, cfg Config, logger *zap.Logger) *EndingEvaluator {
	return &EndingEvaluator{
		invoker: invoker,
		prompts: prompts,
		cfg:     cfg.Normalized(),
		logger:  logger.Named("EndingEvaluator"),
	}
}

// Check evaluates the ending conditions against the full choice history.
func (e *EndingEvaluator) Check(
	ctx context.Context,
	frame *models.StoryFrame,
	history []models.Choice,
) (*EndingCheckResult, error) {
	if frame == nil {
		return nil, models.ErrStoryFrameMissing
	}

	input := endingCheckInput{
		History:  formatHistory(history),
		Endings:  joinEndingConditions(frame.Endings),
		Language: frame.Language,
	}

	result, err := ai.DoWithRetries(ctx, e.logger, e.cfg.MaxAttempts, e.cfg.CallTimeout,
		func(ctx context.Context) (*EndingCheckResult, error) {
			var out EndingCheckResult
			err := e.invoker.GenerateStructured(ctx, ai.Call{
				SchemaName:   "ending_check",
				SystemPrompt: e.prompts.EndingCheck,
				Input:        input,
				Out:          &out,
			})
			if err != nil {
				return nil, err
			}
			return &out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("ending check failed: %w", err)
	}

	e.logger.Debug("Ending check completed", zap.Bool("endingReached", result.EndingReached))
	return result, nil
}
