package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fable-server/internal/engine"
	"fable-server/internal/mocks"
	"fable-server/internal/models"
)

type turnFixture struct {
	invoker  *mocks.MockStructuredInvoker
	renderer *mocks.MockRenderer
	repo     *mocks.MockSessionRepository
	turns    *engine.TurnProcessor
}

func newTurnFixture(t *testing.T, cfg engine.Config) *turnFixture {
	invoker := mocks.NewMockStructuredInvoker(t)
	renderer := mocks.NewMockRenderer(t)
	repo := mocks.NewMockSessionRepository(t)
	logger := zap.NewNop()
	prompts := testPrompts()

	turns := engine.NewTurnProcessor(
		repo,
		engine.NewFrameBuilder(invoker, prompts, cfg, logger),
		engine.NewSceneGenerator(invoker, prompts, cfg, logger),
		engine.NewEndingEvaluator(invoker, prompts, cfg, logger),
		engine.NewCastUpdater(invoker, prompts, cfg, logger),
		engine.NewVisualDecider(invoker, prompts, cfg, logger),
		renderer,
		cfg,
		logger,
	)
	return &turnFixture{invoker: invoker, renderer: renderer, repo: repo, turns: turns}
}

func singleAttemptConfig() engine.Config {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	return cfg
}

// startedState builds a mid-story state with the given number of recorded
// choices.
func startedState(choices int) *models.SessionState {
	state := models.NewSessionState()
	state.StoryFrame = testFrame()
	state.CurrentSceneID = "scene-current"
	state.Scenes["scene-current"] = models.Scene{
		ID:          "scene-current",
		Description: "You float in the flooded gallery.",
		Choices: []models.SceneChoice{
			{Text: "Swim up"}, {Text: "Swim down"},
		},
	}
	for i := 0; i < choices; i++ {
		state.UserChoices = append(state.UserChoices, models.Choice{
			SceneID:    fmt.Sprintf("scene-%d", i),
			ChoiceText: fmt.Sprintf("choice %d", i),
		})
	}
	return state
}

func (f *turnFixture) expectNoEnding() {
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("ending_check")).
		Return(nil).
		Once().
		Run(fillOut(`{"ending_reached": false, "ending": null}`))
}

func (f *turnFixture) expectScene() {
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("scene")).
		Return(nil).
		Once().
		Run(fillOut(`{
			"description": "The lift groans to life as emergency lights stutter on.",
			"choices": [{"text": "Ride the lift"}, {"text": "Take the stairs"}]
		}`))
}

func (f *turnFixture) expectEmptyCastUpdate() {
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("cast_update")).
		Return(nil).
		Once().
		Run(fillOut(`{"actions": []}`))
}

func (f *turnFixture) expectImageChange(prompt string) {
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("scene_image")).
		Return(nil).
		Once().
		Run(fillOut(fmt.Sprintf(`{"change_scene": true, "scene_description": %q}`, prompt)))
}

func TestTurnProcessor_Start(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	f.repo.On("Get", mock.Anything, "sess-1").Return(models.NewSessionState(), nil).Once()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("story_frame")).
		Return(nil).
		Once().
		Run(fillOut(`{
			"lore": "A drowned city clings to its last lights.",
			"goal": "Reach the surface before the air runs out.",
			"milestones": [
				{"id": "find_map", "description": "Find the maintenance map"},
				{"id": "restore_power", "description": "Restore power to the lift"}
			],
			"endings": [
				{"id": "escape", "type": "good", "condition": "The player reaches the surface", "description": "You breathe open air again."},
				{"id": "drown", "type": "bad", "condition": "The player runs out of air", "description": "The water closes over you."}
			]
		}`))
	f.expectScene()
	f.expectEmptyCastUpdate()
	f.expectImageChange("flooded gallery, watercolor")
	f.renderer.On("Render", mock.Anything, "flooded gallery, watercolor", "square", true).
		Return("https://img.example/1.png", "accepted: flooded gallery", nil).
		Once()

	var persisted *models.SessionState
	f.repo.On("Set", mock.Anything, "sess-1", mock.AnythingOfType("*models.SessionState")).
		Return(nil).
		Once().
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(*models.SessionState)
		})

	result, err := f.turns.Start(context.Background(), "sess-1", engine.StartParams{
		Setting:     "a drowned arcology",
		Character:   map[string]string{"name": "Asha"},
		Genre:       "survival",
		Language:    "en",
		VisualStyle: "watercolor",
		ImageFormat: "square",
		IsPro:       true,
	})

	require.NoError(t, err)
	assert.False(t, result.GameOver)
	assert.Nil(t, result.Ending)
	assert.Len(t, result.Scene.Choices, 2)
	assert.Equal(t, "https://img.example/1.png", result.Scene.Image)

	require.NotNil(t, persisted)
	require.NotNil(t, persisted.StoryFrame)
	assert.Equal(t, "watercolor", persisted.StoryFrame.VisualStyle)
	assert.Equal(t, result.Scene.ID, persisted.CurrentSceneID)
	assert.Len(t, persisted.Scenes, 1)
	assert.Equal(t, "accepted: flooded gallery", persisted.LastImagePrompt)
	assert.Empty(t, persisted.UserChoices)
	f.invoker.AssertExpectations(t)
	f.repo.AssertExpectations(t)
}

func TestTurnProcessor_Start_ReusesExistingFrame(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := models.NewSessionState()
	state.StoryFrame = testFrame()
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.expectScene()
	f.expectEmptyCastUpdate()
	f.expectImageChange("opening view")
	f.renderer.On("Render", mock.Anything, "opening view", "", false).
		Return("https://img.example/1.png", "opening view", nil).
		Once()
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

	_, err := f.turns.Start(context.Background(), "sess-1", engine.StartParams{})

	require.NoError(t, err)
	f.invoker.AssertNotCalled(t, "GenerateStructured", mock.Anything, schemaCall("story_frame"))
}

func TestTurnProcessor_Advance_RecordsChoiceAgainstCurrentScene(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := startedState(2)
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.expectNoEnding()
	f.expectScene()
	f.expectEmptyCastUpdate()
	f.expectImageChange("next view")
	f.renderer.On("Render", mock.Anything, "next view", "", false).
		Return("https://img.example/2.png", "next view", nil).
		Once()

	var persisted *models.SessionState
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).
		Return(nil).
		Once().
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(*models.SessionState)
		})

	result, err := f.turns.Advance(context.Background(), "sess-1", "Pry open the vent")

	require.NoError(t, err)
	assert.False(t, result.GameOver)

	require.NotNil(t, persisted)
	require.Len(t, persisted.UserChoices, 3)
	recorded := persisted.UserChoices[2]
	assert.Equal(t, "scene-current", recorded.SceneID)
	assert.Equal(t, "Pry open the vent", recorded.ChoiceText)
	assert.NotEmpty(t, recorded.Timestamp)
	assert.Equal(t, result.Scene.ID, persisted.CurrentSceneID)
	assert.Nil(t, persisted.Ending)
}

func TestTurnProcessor_Advance_GoodEndingSuppressedEarly(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	// Third turn overall, far below the threshold of 15.
	state := startedState(2)
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("ending_check")).
		Return(nil).
		Once().
		Run(fillOut(`{
			"ending_reached": true,
			"ending": {"id": "escape", "type": "good", "condition": "reached the surface", "description": "You breathe open air again."}
		}`))
	f.expectScene()
	f.expectEmptyCastUpdate()
	f.expectImageChange("next view")
	f.renderer.On("Render", mock.Anything, "next view", "", false).
		Return("https://img.example/2.png", "next view", nil).
		Once()

	var persisted *models.SessionState
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).
		Return(nil).
		Once().
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(*models.SessionState)
		})

	result, err := f.turns.Advance(context.Background(), "sess-1", "Climb the final ladder")

	require.NoError(t, err)
	assert.False(t, result.GameOver)
	assert.Nil(t, result.Ending)
	assert.Len(t, result.Scene.Choices, 2)
	assert.Nil(t, persisted.Ending)
}

func TestTurnProcessor_Advance_GoodEndingThresholdBoundary(t *testing.T) {
	goodEndingCheck := `{
		"ending_reached": true,
		"ending": {"id": "escape", "type": "good", "condition": "reached the surface", "description": "You breathe open air again."}
	}`

	t.Run("one below threshold continues", func(t *testing.T) {
		f := newTurnFixture(t, singleAttemptConfig())

		// 13 prior choices, 14 after this turn.
		state := startedState(13)
		f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
		f.invoker.On("GenerateStructured", mock.Anything, schemaCall("ending_check")).
			Return(nil).Once().Run(fillOut(goodEndingCheck))
		f.expectScene()
		f.expectEmptyCastUpdate()
		f.expectImageChange("next view")
		f.renderer.On("Render", mock.Anything, "next view", "", false).
			Return("https://img.example/2.png", "next view", nil).Once()
		f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

		result, err := f.turns.Advance(context.Background(), "sess-1", "Climb out")

		require.NoError(t, err)
		assert.False(t, result.GameOver)
	})

	t.Run("at threshold finishes", func(t *testing.T) {
		f := newTurnFixture(t, singleAttemptConfig())

		// 14 prior choices, 15 after this turn.
		state := startedState(14)
		f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
		f.invoker.On("GenerateStructured", mock.Anything, schemaCall("ending_check")).
			Return(nil).Once().Run(fillOut(goodEndingCheck))
		f.expectScene()
		f.expectImageChange("final view")
		f.renderer.On("Render", mock.Anything, "final view", "", false).
			Return("https://img.example/end.png", "final view", nil).Once()
		f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

		result, err := f.turns.Advance(context.Background(), "sess-1", "Climb out")

		require.NoError(t, err)
		assert.True(t, result.GameOver)
		require.NotNil(t, result.Ending)
		assert.Equal(t, "escape", result.Ending.ID)
	})
}

func TestTurnProcessor_Advance_BadEndingTerminatesEarly(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	// Second turn only; bad endings are exempt from the threshold.
	state := startedState(1)
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("ending_check")).
		Return(nil).
		Once().
		Run(fillOut(`{
			"ending_reached": true,
			"ending": {"id": "drown", "type": "bad", "condition": "ran out of air", "description": "The water closes over you."}
		}`))
	f.expectScene()
	f.expectImageChange("dark water")
	f.renderer.On("Render", mock.Anything, "dark water", "", false).
		Return("https://img.example/end.png", "dark water", nil).
		Once()

	var persisted *models.SessionState
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).
		Return(nil).
		Once().
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(*models.SessionState)
		})

	result, err := f.turns.Advance(context.Background(), "sess-1", "Dive into the shaft")

	require.NoError(t, err)
	assert.True(t, result.GameOver)
	require.NotNil(t, result.Ending)
	assert.Equal(t, "drown", result.Ending.ID)
	assert.Equal(t, "The water closes over you.", result.Scene.Description)
	assert.Empty(t, result.Scene.Choices)

	require.NotNil(t, persisted.Ending)
	assert.Equal(t, result.Scene.ID, persisted.CurrentSceneID)
	// The roster is never revised on the terminal turn.
	f.invoker.AssertNotCalled(t, "GenerateStructured", mock.Anything, schemaCall("cast_update"))
}

func TestTurnProcessor_Advance_EndingReachedWithoutDetailsContinues(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := startedState(5)
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("ending_check")).
		Return(nil).
		Once().
		Run(fillOut(`{"ending_reached": true, "ending": null}`))
	f.expectScene()
	f.expectEmptyCastUpdate()
	f.expectImageChange("next view")
	f.renderer.On("Render", mock.Anything, "next view", "", false).
		Return("https://img.example/2.png", "next view", nil).
		Once()
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

	result, err := f.turns.Advance(context.Background(), "sess-1", "Keep moving")

	require.NoError(t, err)
	assert.False(t, result.GameOver)
	assert.Nil(t, result.Ending)
}

func TestTurnProcessor_Advance_GenerationFailurePersistsNothing(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := startedState(2)
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.expectNoEnding()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("scene")).
		Return(errors.New("model unavailable")).
		Once()

	_, err := f.turns.Advance(context.Background(), "sess-1", "Open the hatch")

	require.Error(t, err)
	f.repo.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestTurnProcessor_Advance_AuxiliaryFailuresDegradeGracefully(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := startedState(2)
	state.LastImagePrompt = "previous prompt"
	state.StoryFrame.CastCharacters = []models.CastCharacter{{CharName: "Mira"}}
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.expectNoEnding()
	f.expectScene()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("cast_update")).
		Return(errors.New("light model down")).
		Once()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("scene_image")).
		Return(errors.New("light model down")).
		Once()

	var persisted *models.SessionState
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).
		Return(nil).
		Once().
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(*models.SessionState)
		})

	result, err := f.turns.Advance(context.Background(), "sess-1", "Push on")

	require.NoError(t, err)
	assert.Empty(t, result.Scene.Image)
	assert.Equal(t, "previous prompt", persisted.LastImagePrompt)
	assert.Equal(t, []models.CastCharacter{{CharName: "Mira"}}, persisted.StoryFrame.CastCharacters)
	f.renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTurnProcessor_Advance_KeepsImageWhenSceneUnchanged(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := startedState(2)
	state.LastImagePrompt = "previous prompt"
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.expectNoEnding()
	f.expectScene()
	f.expectEmptyCastUpdate()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("scene_image")).
		Return(nil).
		Once().
		Run(fillOut(`{"change_scene": false, "scene_description": null}`))

	var persisted *models.SessionState
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).
		Return(nil).
		Once().
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(*models.SessionState)
		})

	result, err := f.turns.Advance(context.Background(), "sess-1", "Look around")

	require.NoError(t, err)
	assert.Empty(t, result.Scene.Image)
	assert.Equal(t, "previous prompt", persisted.LastImagePrompt)
	f.renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTurnProcessor_Advance_ImageRejectionDegradesGracefully(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := startedState(2)
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.expectNoEnding()
	f.expectScene()
	f.expectEmptyCastUpdate()
	f.expectImageChange("rejected view")
	f.renderer.On("Render", mock.Anything, "rejected view", "", false).
		Return("", "", models.ErrContentRejected).
		Once()
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).Return(nil).Once()

	result, err := f.turns.Advance(context.Background(), "sess-1", "Push on")

	require.NoError(t, err)
	assert.Empty(t, result.Scene.Image)
}

func TestTurnProcessor_Advance_AppliesCastChanges(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := startedState(2)
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()
	f.expectNoEnding()
	f.expectScene()
	f.invoker.On("GenerateStructured", mock.Anything, schemaCall("cast_update")).
		Return(nil).
		Once().
		Run(fillOut(`{
			"actions": [{
				"operation": "add",
				"char_name": "Jorek",
				"char_age": "51",
				"char_background": "lift engineer",
				"char_personality": "gruff, loyal",
				"visual_description": "broad, soot-stained overalls, grey beard"
			}]
		}`))
	f.expectImageChange("next view")
	f.renderer.On("Render", mock.Anything, "next view", "", false).
		Return("https://img.example/2.png", "next view", nil).
		Once()

	var persisted *models.SessionState
	f.repo.On("Set", mock.Anything, "sess-1", mock.Anything).
		Return(nil).
		Once().
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(*models.SessionState)
		})

	_, err := f.turns.Advance(context.Background(), "sess-1", "Call out to the stranger")

	require.NoError(t, err)
	require.Len(t, persisted.StoryFrame.CastCharacters, 1)
	assert.Equal(t, "Jorek", persisted.StoryFrame.CastCharacters[0].CharName)
}

func TestTurnProcessor_Advance_FinishedSession(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	state := startedState(3)
	state.Ending = &models.Ending{ID: "drown", Type: models.EndingTypeBad}
	f.repo.On("Get", mock.Anything, "sess-1").Return(state, nil).Once()

	_, err := f.turns.Advance(context.Background(), "sess-1", "One more step")

	assert.ErrorIs(t, err, models.ErrStoryFinished)
	f.invoker.AssertNotCalled(t, "GenerateStructured", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestTurnProcessor_Advance_NotStarted(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	f.repo.On("Get", mock.Anything, "sess-1").Return(models.NewSessionState(), nil).Once()

	_, err := f.turns.Advance(context.Background(), "sess-1", "Begin")

	assert.ErrorIs(t, err, models.ErrStoryNotStarted)
}

func TestTurnProcessor_Reset(t *testing.T) {
	f := newTurnFixture(t, singleAttemptConfig())

	f.repo.On("Reset", mock.Anything, "sess-1").Return(nil).Once()

	require.NoError(t, f.turns.Reset(context.Background(), "sess-1"))
	f.repo.AssertExpectations(t)
}
