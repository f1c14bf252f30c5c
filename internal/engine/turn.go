package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fable-server/internal/images"
	"fable-server/internal/models"
	"fable-server/internal/storage"
)

// forcedImageNote is appended to the visual context whenever the image must
// change regardless of continuity, i.e. for the opening scene and for the
// ending scene.
const forcedImageNote = "\n\nNOTE: YOU MUST GENERATE A NEW IMAGE FOR THIS SCENE. Return change_scene=true and a full scene_description."

// StartParams carries everything a client supplies when opening a session.
type StartParams struct {
	Setting     string
	Character   map[string]string
	Genre       string
	Language    string
	VisualStyle string
	Cast        []models.CastCharacter
	ImageFormat string
	IsPro       bool
}

// TurnResult is what a completed turn hands back to the transport layer.
type TurnResult struct {
	Scene    models.Scene
	GameOver bool
	Ending   *models.Ending
}

// TurnProcessor drives whole turns: it loads the session state, fans out the
// model calls a turn needs, folds the results back into the state and
// persists it exactly once at the end. Story generation failures abort the
// turn with nothing persisted; cast and image failures degrade the turn but
// never fail it.
type TurnProcessor struct {
	repo     storage.SessionRepository
	frames   *FrameBuilder
	scenes   *SceneGenerator
	endings  *EndingEvaluator
	cast     *CastUpdater
	visual   *VisualDecider
	renderer images.Renderer
	cfg      Config
	logger   *zap.Logger
}

// NewTurnProcessor wires the engine components into a turn processor.
func NewTurnProcessor(
	repo storage.SessionRepository,
	frames *FrameBuilder,
	scenes *SceneGenerator,
	endings *EndingEvaluator,
	cast *CastUpdater,
	visual *VisualDecider,
	renderer images.Renderer,
	cfg Config,
	logger *zap.Logger,
) *TurnProcessor {
	return &TurnProcessor{
		repo:     repo,
		frames:   frames,
		scenes:   scenes,
		endings:  endings,
		cast:     cast,
		visual:   visual,
		renderer: renderer,
		cfg:      cfg.Normalized(),
		logger:   logger.Named("TurnProcessor"),
	}
}

// Start opens a session: it builds the story frame if one does not exist yet
// and generates the opening scene. Calling Start on a session that already
// has a frame but no scenes reuses the frame, so a crashed first turn can be
// replayed.
func (p *TurnProcessor) Start(ctx context.Context, sessionID string, params StartParams) (*TurnResult, error) {
	log := p.logger.With(zap.String("sessionID", sessionID))

	state, err := p.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	if state.Finished() {
		return nil, models.ErrStoryFinished
	}

	if params.Language != "" {
		state.Language = params.Language
	}
	state.ImageFormat = params.ImageFormat
	state.IsPro = params.IsPro

	if state.StoryFrame == nil {
		frame, err := p.frames.Build(ctx, FrameParams{
			Setting:     params.Setting,
			Character:   params.Character,
			Genre:       params.Genre,
			Language:    state.Language,
			VisualStyle: params.VisualStyle,
			Cast:        params.Cast,
		})
		if err != nil {
			return nil, err
		}
		state.StoryFrame = frame
		log.Info("Story frame built",
			zap.Int("milestones", len(frame.Milestones)),
			zap.Int("endings", len(frame.Endings)),
		)
	}

	payload, err := p.scenes.Generate(ctx, state.StoryFrame, state.UserChoices, models.NoChoiceSentinel)
	if err != nil {
		return nil, err
	}

	scene := p.composeScene(ctx, log, state, payload, models.NoChoiceSentinel, payload.Description+forcedImageNote)
	state.CurrentSceneID = scene.ID

	if err := p.repo.Set(ctx, sessionID, state); err != nil {
		return nil, fmt.Errorf("failed to persist session state: %w", err)
	}

	log.Info("Session started", zap.String("sceneID", scene.ID))
	return &TurnResult{Scene: scene}, nil
}

// Advance plays one turn: the choice is recorded against the scene it was
// made on, then the ending check and the next scene are generated
// concurrently. A reached ending wins over the generated scene.
func (p *TurnProcessor) Advance(ctx context.Context, sessionID, choiceText string) (*TurnResult, error) {
	log := p.logger.With(zap.String("sessionID", sessionID))

	state, err := p.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	if state.Finished() {
		return nil, models.ErrStoryFinished
	}
	if state.StoryFrame == nil || !state.Started() {
		return nil, models.ErrStoryNotStarted
	}

	choiceSceneID := state.CurrentSceneID
	state.UserChoices = append(state.UserChoices, models.Choice{
		SceneID:    choiceSceneID,
		ChoiceText: choiceText,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})

	var (
		check   *EndingCheckResult
		payload *ScenePayload
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		check, err = p.endings.Check(gctx, state.StoryFrame, state.UserChoices)
		return err
	})
	g.Go(func() error {
		var err error
		payload, err = p.scenes.Generate(gctx, state.StoryFrame, state.UserChoices, choiceText)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if ending := p.resolveEnding(log, check, len(state.UserChoices)); ending != nil {
		state.Ending = ending
		scene := p.composeEndingScene(ctx, log, state, ending, choiceText)

		if err := p.repo.Set(ctx, sessionID, state); err != nil {
			return nil, fmt.Errorf("failed to persist session state: %w", err)
		}

		log.Info("Story finished",
			zap.String("endingID", ending.ID),
			zap.String("endingType", string(ending.Type)),
			zap.Int("turns", len(state.UserChoices)),
		)
		return &TurnResult{Scene: scene, GameOver: true, Ending: ending}, nil
	}

	scene := p.composeScene(ctx, log, state, payload, choiceText, payload.Description)
	state.CurrentSceneID = scene.ID

	if err := p.repo.Set(ctx, sessionID, state); err != nil {
		return nil, fmt.Errorf("failed to persist session state: %w", err)
	}

	log.Info("Turn completed",
		zap.String("sceneID", scene.ID),
		zap.Int("turns", len(state.UserChoices)),
	)
	return &TurnResult{Scene: scene, GameOver: false}, nil
}

// Reset discards the session state entirely.
func (p *TurnProcessor) Reset(ctx context.Context, sessionID string) error {
	return p.repo.Reset(ctx, sessionID)
}

// resolveEnding decides whether the turn terminates. A good ending proposed
// before the story has run long enough is suppressed so short sessions
// cannot win early; an inconsistent result (reached without an ending) is
// logged and treated as not reached.
func (p *TurnProcessor) resolveEnding(log *zap.Logger, check *EndingCheckResult, choiceCount int) *models.Ending {
	if check == nil || !check.EndingReached {
		return nil
	}
	if check.Ending == nil {
		log.Error("Ending reported as reached without ending details, continuing the story")
		return nil
	}
	if check.Ending.Type == models.EndingTypeGood && choiceCount < p.cfg.MinChoicesForGoodEnding {
		log.Info("Good ending proposed too early, continuing the story",
			zap.String("endingID", check.Ending.ID),
			zap.Int("choiceCount", choiceCount),
			zap.Int("minChoices", p.cfg.MinChoicesForGoodEnding),
		)
		return nil
	}
	return check.Ending
}

// composeScene finishes a regular turn: the cast proposal runs concurrently
// with the image pipeline and its diff is applied once both are done, so the
// roster the visual model saw stays stable for the whole turn. The finished
// scene is registered in the state; failures of either side only cost the
// enhancement they produce.
func (p *TurnProcessor) composeScene(
	ctx context.Context,
	log *zap.Logger,
	state *models.SessionState,
	payload *ScenePayload,
	lastChoice, imageContext string,
) models.Scene {
	type castProposal struct {
		updates *CastUpdates
		err     error
	}
	castCh := make(chan castProposal, 1)
	go func() {
		updates, err := p.cast.Propose(ctx, state, payload.Description, lastChoice)
		castCh <- castProposal{updates: updates, err: err}
	}()

	imageURL, acceptedPrompt := p.renderSceneImage(ctx, log, state, imageContext, lastChoice)

	proposal := <-castCh
	switch {
	case proposal.err != nil:
		log.Warn("Cast update failed, keeping previous roster", zap.Error(proposal.err))
	case proposal.updates != nil:
		roster, changed := p.cast.ApplyCastActions(state.StoryFrame.CastCharacters, proposal.updates)
		if changed {
			state.StoryFrame.CastCharacters = roster
			log.Info("Cast roster updated", zap.Int("castSize", len(roster)))
		}
	}

	scene := models.Scene{
		ID:          uuid.NewString(),
		Description: payload.Description,
		Choices:     payload.Choices,
		Image:       imageURL,
	}
	state.Scenes[scene.ID] = scene
	if acceptedPrompt != "" {
		state.LastImagePrompt = acceptedPrompt
	}
	return scene
}

// composeEndingScene builds the terminal scene. The ending text is final, so
// only the image pipeline runs; the cast roster is never touched again.
func (p *TurnProcessor) composeEndingScene(
	ctx context.Context,
	log *zap.Logger,
	state *models.SessionState,
	ending *models.Ending,
	lastChoice string,
) models.Scene {
	imageURL, acceptedPrompt := p.renderSceneImage(ctx, log, state, endingImageContext(state, ending), lastChoice)

	scene := models.Scene{
		ID:          uuid.NewString(),
		Description: ending.Description,
		Choices:     []models.SceneChoice{},
		Image:       imageURL,
	}
	state.Scenes[scene.ID] = scene
	state.CurrentSceneID = scene.ID
	if acceptedPrompt != "" {
		state.LastImagePrompt = acceptedPrompt
	}
	return scene
}

// renderSceneImage runs the visual continuity decision and, when an image
// change is requested, the actual render. Both steps are best effort: any
// failure leaves the scene without an image.
func (p *TurnProcessor) renderSceneImage(
	ctx context.Context,
	log *zap.Logger,
	state *models.SessionState,
	imageContext, lastChoice string,
) (imageURL, acceptedPrompt string) {
	decision, err := p.visual.Decide(ctx, state, imageContext, lastChoice)
	if err != nil {
		log.Warn("Scene image decision failed, continuing without an image", zap.Error(err))
		return "", ""
	}
	if !decision.ChangeScene {
		log.Debug("Keeping the previous scene image")
		return "", decision.SceneDescription
	}

	url, prompt, err := p.renderer.Render(ctx, decision.SceneDescription, state.ImageFormat, state.IsPro)
	if err != nil {
		if errors.Is(err, models.ErrContentRejected) {
			log.Warn("Image prompt rejected by the renderer, continuing without an image")
		} else {
			log.Error("Image rendering failed, continuing without an image", zap.Error(err))
		}
		return "", decision.SceneDescription
	}
	return url, prompt
}

// endingImageContext assembles the visual context for the terminal scene.
func endingImageContext(state *models.SessionState, ending *models.Ending) string {
	var b strings.Builder
	b.WriteString("The story has reached its ending.\n")
	fmt.Fprintf(&b, "Ending: %s (%s)\n", ending.ID, ending.Type)
	fmt.Fprintf(&b, "Condition: %s\n", ending.Condition)
	fmt.Fprintf(&b, "Final scene: %s", ending.Description)
	b.WriteString(forcedImageNote)
	return b.String()
}
