package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"fable-server/internal/ai"
	"fable-server/internal/models"
)

// SceneImageDecision is the schema requested from the visual continuity
// model: whether the displayed image must change and, if so, the full image
// prompt engineered for the rendering model.
type SceneImageDecision struct {
	ChangeScene      bool   `json:"change_scene"`
	SceneDescription string `json:"scene_description"`
}

type sceneImageInput struct {
	Lore             string `json:"lore"`
	Goal             string `json:"goal"`
	Milestones       string `json:"milestones"`
	Endings          string `json:"endings"`
	VisualStyle      string `json:"visual_style"`
	Cast             string `json:"cast_characters"`
	History          string `json:"history"`
	LastChoice       string `json:"last_choice"`
	LastImagePrompt  string `json:"last_image_prompt"`
	SceneDescription string `json:"scene_description"`
}

// VisualDecider decides whether the accompanying image must change for a
// new scene, keeping continuity with the last rendered prompt. The
// protagonist is never described in the produced prompt (prompt-level
// instruction).
type VisualDecider struct {
	invoker ai.StructuredInvoker
	prompts *ai.Prompts
	cfg     Config
	logger  *zap.Logger
}

// NewVisualDecider creates a VisualDecider.
func NewVisualDecider(invoker ai.StructuredInvoker, prompts *ai.Prompts, cfg Config, logger *zap.Logger) *VisualDecider {
	return &VisualDecider{
		invoker: invoker,
		prompts: prompts,
		cfg:     cfg.Normalized(),
		logger:  logger.Named("VisualDecider"),
	}
}

// Decide evaluates the new scene description against the session's visual
// context. A positive decision without a prompt is malformed and retried.
func (d *VisualDecider) Decide(
	ctx context.Context,
	state *models.SessionState,
	sceneDescription, lastChoice string,
) (*SceneImageDecision, error) {
	if state.StoryFrame == nil {
		return nil, models.ErrStoryFrameMissing
	}
	if lastChoice == "" {
		lastChoice = models.NoChoiceSentinel
	}

	frame := state.StoryFrame
	input := sceneImageInput{
		Lore:             frame.Lore,
		Goal:             frame.Goal,
		Milestones:       joinMilestoneIDs(frame.Milestones),
		Endings:          joinEndingIDs(frame.Endings),
		VisualStyle:      frame.VisualStyle,
		Cast:             formatCastRoster(frame.CastCharacters),
		History:          formatHistory(state.UserChoices),
		LastChoice:       lastChoice,
		LastImagePrompt:  state.LastImagePrompt,
		SceneDescription: sceneDescription,
	}

	decision, err := ai.DoWithRetries(ctx, d.logger, d.cfg.MaxAttempts, d.cfg.CallTimeout,
		func(ctx context.Context) (*SceneImageDecision, error) {
			var out SceneImageDecision
			err := d.invoker.GenerateStructured(ctx, ai.Call{
				SchemaName:   "scene_image",
				SystemPrompt: d.prompts.ImagePrompt,
				Input:        input,
				Out:          &out,
				Light:        true,
				Temperature:  0.1,
			})
			if err != nil {
				return nil, err
			}
			if out.ChangeScene && strings.TrimSpace(out.SceneDescription) == "" {
				return nil, fmt.Errorf("%w: image change requested without a prompt", models.ErrMalformedModelResponse)
			}
			return &out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("scene image decision failed: %w", err)
	}

	d.logger.Debug("Scene image decision made", zap.Bool("changeScene", decision.ChangeScene))
	return decision, nil
}
