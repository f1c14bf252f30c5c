package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"fable-server/internal/ai"
	"fable-server/internal/models"
)

// ScenePayload is the schema requested from the scene model: a bounded
// description and exactly two distinct choices. Pacing is not the
// generator's concern; it always returns a non-terminal scene.
type ScenePayload struct {
	Description string               `json:"description"`
	Choices     []models.SceneChoice `json:"choices"`
}

type sceneInput struct {
	Lore          string            `json:"lore"`
	Goal          string            `json:"goal"`
	Milestones    string            `json:"milestones"`
	Endings       string            `json:"endings"`
	History       string            `json:"history"`
	LastChoice    string            `json:"last_choice"`
	Language      string            `json:"language"`
	Cast          string            `json:"cast_characters"`
	MainCharacter map[string]string `json:"main_character"`
}

// SceneGenerator produces the next narrative beat from the story frame and
// the full choice history.
type SceneGenerator struct {
	invoker ai.StructuredInvoker
	prompts *ai.Prompts
	cfg     Config
	logger  *zap.Logger
}

// NewSceneGenerator creates a SceneGenerator.
func NewSceneGenerator(invoker ai.StructuredInvoker, prompts *ai.Prompts, cfg Config, logger *zap.Logger) *SceneGenerator {
	return &SceneGenerator{
		invoker: invoker,
		prompts: prompts,
		cfg:     cfg.Normalized(),
		logger:  logger.Named("SceneGenerator"),
	}
}

// Generate requests the next scene. lastChoice is the raw player text, or
// models.NoChoiceSentinel for the opening scene. A payload without exactly
// two distinct non-empty choices is malformed and retried.
func (g *SceneGenerator) Generate(
	ctx context.Context,
	frame *models.StoryFrame,
	history []models.Choice,
	lastChoice string,
) (*ScenePayload, error) {
	if frame == nil {
		return nil, models.ErrStoryFrameMissing
	}

	input := sceneInput{
		Lore:          frame.Lore,
		Goal:          frame.Goal,
		Milestones:    joinMilestoneIDs(frame.Milestones),
		Endings:       joinEndingIDs(frame.Endings),
		History:       formatHistory(history),
		LastChoice:    lastChoice,
		Language:      frame.Language,
		Cast:          formatCastRoster(frame.CastCharacters),
		MainCharacter: frame.Character,
	}

	payload, err := ai.DoWithRetries(ctx, g.logger, g.cfg.MaxAttempts, g.cfg.CallTimeout,
		func(ctx context.Context) (*ScenePayload, error) {
			var out ScenePayload
			err := g.invoker.GenerateStructured(ctx, ai.Call{
				SchemaName:   "scene",
				SystemPrompt: g.prompts.Scene,
				Input:        input,
				Out:          &out,
			})
			if err != nil {
				return nil, err
			}
			if err := validateScenePayload(&out); err != nil {
				return nil, err
			}
			return &out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("scene generation failed: %w", err)
	}

	g.logger.Debug("Scene generated", zap.Int("historyLen", len(history)))
	return payload, nil
}

func validateScenePayload(p *ScenePayload) error {
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: scene description is empty", models.ErrMalformedModelResponse)
	}
	if len(p.Choices) != 2 {
		return fmt.Errorf("%w: scene has %d choices, want exactly 2", models.ErrMalformedModelResponse, len(p.Choices))
	}
	first := strings.TrimSpace(p.Choices[0].Text)
	second := strings.TrimSpace(p.Choices[1].Text)
	if first == "" || second == "" {
		return fmt.Errorf("%w: scene choice text is empty", models.ErrMalformedModelResponse)
	}
	if strings.EqualFold(first, second) {
		return fmt.Errorf("%w: scene choices are not distinct", models.ErrMalformedModelResponse)
	}
	return nil
}
