// Package engine implements the per-turn state machine that drives a
// branching interactive story: story-frame creation, scene generation,
// ending evaluation, cast bookkeeping and image-change decisions.
package engine

import (
	"fmt"
	"strings"
	"time"

	"fable-server/internal/models"
)

// Config holds the engine-wide generation policy.
type Config struct {
	// MaxAttempts and CallTimeout bound every individual model call via
	// the retry executor.
	MaxAttempts int
	CallTimeout time.Duration

	// MinChoicesForGoodEnding is the minimum number of recorded choices
	// (counted after the current one is appended) before a good ending
	// proposed by the evaluator is honored. Bad endings are exempt.
	MinChoicesForGoodEnding int
}

// Normalized returns the config with defaults applied.
func (c Config) Normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 90 * time.Second
	}
	if c.MinChoicesForGoodEnding <= 0 {
		c.MinChoicesForGoodEnding = 15
	}
	return c
}

// formatHistory renders the choice history the way every prompt consumes it.
func formatHistory(choices []models.Choice) string {
	parts := make([]string, 0, len(choices))
	for _, c := range choices {
		parts = append(parts, fmt.Sprintf("%s:%s", c.SceneID, c.ChoiceText))
	}
	return strings.Join(parts, "; ")
}

// formatCastRoster renders the supporting-character list for prompt context.
func formatCastRoster(cast []models.CastCharacter) string {
	if len(cast) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(cast))
	for _, c := range cast {
		lines = append(lines, fmt.Sprintf(
			"%s | age:%s | persona:%s | bg:%s | visual:%s",
			c.CharName, c.CharAge, c.CharPersonality, c.CharBackground, c.VisualDescription,
		))
	}
	return strings.Join(lines, "\n")
}

func joinMilestoneIDs(milestones []models.Milestone) string {
	ids := make([]string, 0, len(milestones))
	for _, m := range milestones {
		ids = append(ids, m.ID)
	}
	return strings.Join(ids, ",")
}

func joinEndingIDs(endings []models.Ending) string {
	ids := make([]string, 0, len(endings))
	for _, e := range endings {
		ids = append(ids, e.ID)
	}
	return strings.Join(ids, ",")
}

func joinEndingConditions(endings []models.Ending) string {
	parts := make([]string, 0, len(endings))
	for _, e := range endings {
		parts = append(parts, fmt.Sprintf("%s:%s", e.ID, e.Condition))
	}
	return strings.Join(parts, ",")
}
