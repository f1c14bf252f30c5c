package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fable-server/internal/ai"
	"fable-server/internal/models"
)

// FrameParams carries the one-time inputs the caller guarantees before a
// session starts.
type FrameParams struct {
	Setting     string
	Character   map[string]string
	Genre       string
	Language    string
	VisualStyle string
	Cast        []models.CastCharacter
}

// storyFramePayload is the schema requested from the model; the remaining
// StoryFrame fields are supplied by the caller.
type storyFramePayload struct {
	Lore       string             `json:"lore"`
	Goal       string             `json:"goal"`
	Milestones []models.Milestone `json:"milestones"`
	Endings    []models.Ending    `json:"endings"`
}

type storyFrameInput struct {
	Setting   string            `json:"setting"`
	Character map[string]string `json:"character"`
	Genre     string            `json:"genre"`
	Language  string            `json:"language"`
}

// FrameBuilder produces the narrative skeleton for a session. It runs once
// per session; the turn processor checks for an existing frame first, which
// makes re-invocation after a partial write idempotent.
type FrameBuilder struct {
	invoker ai.StructuredInvoker
	prompts *ai.Prompts
	cfg     Config
	logger  *zap.Logger
}

// NewFrameBuilder creates a FrameBuilder.
func NewFrameBuilder(invoker ai.StructuredInvoker, prompts *ai.Prompts, cfg Config, logger *zap.Logger) *FrameBuilder {
	return &FrameBuilder{
		invoker: invoker,
		prompts: prompts,
		cfg:     cfg.Normalized(),
		logger:  logger.Named("FrameBuilder"),
	}
}

// Build invokes the narrative model for {lore, goal, milestones, endings}
// and wraps the result with the caller-supplied fields into a full
// StoryFrame. A payload with fewer than two milestones or endings is
// treated as malformed and retried.
func (b *FrameBuilder) Build(ctx context.Context, params FrameParams) (*models.StoryFrame, error) {
	payload, err := ai.DoWithRetries(ctx, b.logger, b.cfg.MaxAttempts, b.cfg.CallTimeout,
		func(ctx context.Context) (*storyFramePayload, error) {
			var out storyFramePayload
			err := b.invoker.GenerateStructured(ctx, ai.Call{
				SchemaName:   "story_frame",
				SystemPrompt: b.prompts.StoryFrame,
				Input: storyFrameInput{
					Setting:   params.Setting,
					Character: params.Character,
					Genre:     params.Genre,
					Language:  params.Language,
				},
				Out: &out,
			})
			if err != nil {
				return nil, err
			}
			if err := validateStoryFramePayload(&out); err != nil {
				return nil, err
			}
			return &out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("story frame generation failed: %w", err)
	}

	b.logger.Info("Story frame generated",
		zap.Int("milestones", len(payload.Milestones)),
		zap.Int("endings", len(payload.Endings)),
	)

	return &models.StoryFrame{
		Lore:           payload.Lore,
		Goal:           payload.Goal,
		Milestones:     payload.Milestones,
		Endings:        payload.Endings,
		VisualStyle:    params.VisualStyle,
		CastCharacters: params.Cast,
		Setting:        params.Setting,
		Character:      params.Character,
		Genre:          params.Genre,
		Language:       params.Language,
	}, nil
}

func validateStoryFramePayload(p *storyFramePayload) error {
	if p.Lore == "" || p.Goal == "" {
		return fmt.Errorf("%w: story frame is missing lore or goal", models.ErrMalformedModelResponse)
	}
	if len(p.Milestones) < 2 {
		return fmt.Errorf("%w: story frame has %d milestones, want at least 2", models.ErrMalformedModelResponse, len(p.Milestones))
	}
	if len(p.Endings) < 2 {
		return fmt.Errorf("%w: story frame has %d endings, want at least 2", models.ErrMalformedModelResponse, len(p.Endings))
	}
	for _, e := range p.Endings {
		if e.Type != models.EndingTypeGood && e.Type != models.EndingTypeBad {
			return fmt.Errorf("%w: ending %q has unknown type %q", models.ErrMalformedModelResponse, e.ID, e.Type)
		}
	}
	return nil
}
