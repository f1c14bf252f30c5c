package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fable-server/internal/ai"
	"fable-server/internal/models"
)

// Cast action operations.
const (
	CastOpAdd    = "add"
	CastOpUpdate = "update"
	CastOpRemove = "remove"
)

// CastAction is a single diff operation against the cast roster. Optional
// fields are pointers so an omitted field can be told apart from an
// explicitly empty one; updates only replace fields that are present and
// non-empty.
type CastAction struct {
	Operation         string  `json:"operation"`
	CharName          string  `json:"char_name"`
	CharAge           *string `json:"char_age"`
	CharBackground    *string `json:"char_background"`
	CharPersonality   *string `json:"char_personality"`
	VisualDescription *string `json:"visual_description"`
}

// CastUpdates is the schema requested from the cast model.
type CastUpdates struct {
	Actions []CastAction `json:"actions"`
}

type castUpdateInput struct {
	Lore             string            `json:"lore"`
	Goal             string            `json:"goal"`
	Milestones       string            `json:"milestones"`
	Endings          string            `json:"endings"`
	Cast             string            `json:"cast_characters"`
	SceneDescription string            `json:"scene_description"`
	LastChoice       string            `json:"last_choice"`
	MainCharacter    map[string]string `json:"main_character"`
}

// CastUpdater keeps the supporting-character roster consistent across
// turns. It proposes diff actions via the light model and applies them with
// deterministic merge rules; the protagonist is excluded by prompt
// instruction, not by filtering here.
type CastUpdater struct {
	invoker ai.StructuredInvoker
	prompts *ai.Prompts
	cfg     Config
	logger  *zap.Logger
}

// NewCastUpdater creates a CastUpdater.
func NewCastUpdater(invoker ai.StructuredInvoker, prompts *ai.Prompts, cfg Config, logger *zap.Logger) *CastUpdater {
	return &CastUpdater{
		invoker: invoker,
		prompts: prompts,
		cfg:     cfg.Normalized(),
		logger:  logger.Named("CastUpdater"),
	}
}

// Propose asks the model for roster diff actions based on the latest scene.
func (u *CastUpdater) Propose(
	ctx context.Context,
	state *models.SessionState,
	sceneDescription, lastChoice string,
) (*CastUpdates, error) {
	if state.StoryFrame == nil {
		return nil, models.ErrStoryFrameMissing
	}
	if lastChoice == "" {
		lastChoice = models.NoChoiceSentinel
	}

	frame := state.StoryFrame
	input := castUpdateInput{
		Lore:             frame.Lore,
		Goal:             frame.Goal,
		Milestones:       joinMilestoneIDs(frame.Milestones),
		Endings:          joinEndingIDs(frame.Endings),
		Cast:             formatCastRoster(frame.CastCharacters),
		SceneDescription: sceneDescription,
		LastChoice:       lastChoice,
		MainCharacter:    frame.Character,
	}

	updates, err := ai.DoWithRetries(ctx, u.logger, u.cfg.MaxAttempts, u.cfg.CallTimeout,
		func(ctx context.Context) (*CastUpdates, error) {
			var out CastUpdates
			err := u.invoker.GenerateStructured(ctx, ai.Call{
				SchemaName:   "cast_update",
				SystemPrompt: u.prompts.CastUpdate,
				Input:        input,
				Out:          &out,
				Light:        true,
				Temperature:  0.1,
			})
			if err != nil {
				return nil, err
			}
			return &out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("cast update proposal failed: %w", err)
	}
	return updates, nil
}

// ApplyCastActions applies a batch of diff actions to a copy of the roster
// and reports whether the result differs from the input.
func (u *CastUpdater) ApplyCastActions(roster []models.CastCharacter, updates *CastUpdates) ([]models.CastCharacter, bool) {
	current := make([]models.CastCharacter, len(roster))
	copy(current, roster)

	changedAny := false
	for _, action := range updates.Actions {
		var changed bool
		current, changed = applyCastAction(current, action)
		u.logger.Debug("Cast action processed",
			zap.String("operation", action.Operation),
			zap.String("charName", action.CharName),
			zap.Bool("applied", changed),
		)
		changedAny = changedAny || changed
	}
	return current, changedAny
}

func applyCastAction(roster []models.CastCharacter, action CastAction) ([]models.CastCharacter, bool) {
	switch action.Operation {
	case CastOpRemove:
		filtered := roster[:0]
		for _, c := range roster {
			if c.CharName != action.CharName {
				filtered = append(filtered, c)
			}
		}
		return filtered, len(filtered) != len(roster)

	case CastOpAdd, CastOpUpdate:
		idx := -1
		for i, c := range roster {
			if c.CharName == action.CharName {
				idx = i
				break
			}
		}

		if idx == -1 {
			if action.Operation == CastOpUpdate {
				// Updating an unknown character is a no-op.
				return roster, false
			}
			roster = append(roster, models.CastCharacter{
				CharName:          action.CharName,
				CharAge:           fieldOrEmpty(action.CharAge),
				CharBackground:    fieldOrEmpty(action.CharBackground),
				CharPersonality:   fieldOrEmpty(action.CharPersonality),
				VisualDescription: fieldOrEmpty(action.VisualDescription),
			})
			return roster, true
		}

		// add on an existing name behaves as update
		target := roster[idx]
		merged := models.CastCharacter{
			CharName:          target.CharName,
			CharAge:           mergeField(action.CharAge, target.CharAge),
			CharBackground:    mergeField(action.CharBackground, target.CharBackground),
			CharPersonality:   mergeField(action.CharPersonality, target.CharPersonality),
			VisualDescription: mergeField(action.VisualDescription, target.VisualDescription),
		}
		if merged == target {
			return roster, false
		}
		roster[idx] = merged
		return roster, true
	}

	return roster, false
}

func fieldOrEmpty(f *string) string {
	if f == nil {
		return ""
	}
	return *f
}

func mergeField(f *string, current string) string {
	if f == nil || *f == "" {
		return current
	}
	return *f
}
