package ai

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	storyFramePromptFile  = "story_frame.md"
	scenePromptFile       = "scene.md"
	endingCheckPromptFile = "ending_check.md"
	castUpdatePromptFile  = "cast_update.md"
	imagePromptFile       = "image_prompt.md"
)

// Prompts holds the system prompts loaded once at startup.
type Prompts struct {
	StoryFrame  string
	Scene       string
	EndingCheck string
	CastUpdate  string
	ImagePrompt string
}

// LoadPrompts reads all prompt files from dir.
func LoadPrompts(dir string) (*Prompts, error) {
	load := func(name string) (string, error) {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file %s: %w", path, err)
		}
		return string(content), nil
	}

	var p Prompts
	var err error
	if p.StoryFrame, err = load(storyFramePromptFile); err != nil {
		return nil, err
	}
	if p.Scene, err = load(scenePromptFile); err != nil {
		return nil, err
	}
	if p.EndingCheck, err = load(endingCheckPromptFile); err != nil {
		return nil, err
	}
	if p.CastUpdate, err = load(castUpdatePromptFile); err != nil {
		return nil, err
	}
	if p.ImagePrompt, err = load(imagePromptFile); err != nil {
		return nil, err
	}
	return &p, nil
}
