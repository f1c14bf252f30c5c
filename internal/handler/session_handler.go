package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fable-server/internal/engine"
	"fable-server/internal/models"
)

// SessionHandler exposes the turn processor over HTTP.
type SessionHandler struct {
	turns  *engine.TurnProcessor
	logger *zap.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(turns *engine.TurnProcessor, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		turns:  turns,
		logger: logger.Named("SessionHandler"),
	}
}

// RegisterRoutes attaches the session endpoints to the given group.
func (h *SessionHandler) RegisterRoutes(api *gin.RouterGroup) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("/:id/start", h.startSession)
		sessions.POST("/:id/advance", h.advanceSession)
		sessions.DELETE("/:id", h.resetSession)
	}
}

type startSessionRequest struct {
	Setting     string                 `json:"setting" binding:"required"`
	Character   map[string]string      `json:"character" binding:"required"`
	Genre       string                 `json:"genre" binding:"required"`
	Language    string                 `json:"language"`
	VisualStyle string                 `json:"visual_style"`
	Cast        []models.CastCharacter `json:"cast_characters"`
	ImageFormat string                 `json:"image_format"`
	IsPro       bool                   `json:"is_pro"`
}

type advanceSessionRequest struct {
	ChoiceText string `json:"choice_text"`
}

type turnResponse struct {
	Scene    models.Scene   `json:"scene"`
	GameOver bool           `json:"game_over"`
	Ending   *models.Ending `json:"ending,omitempty"`
}

func (h *SessionHandler) startSession(c *gin.Context) {
	sessionID := c.Param("id")
	log := h.logger.With(zap.String("sessionID", sessionID))

	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.turns.Start(c.Request.Context(), sessionID, engine.StartParams{
		Setting:     req.Setting,
		Character:   req.Character,
		Genre:       req.Genre,
		Language:    req.Language,
		VisualStyle: req.VisualStyle,
		Cast:        req.Cast,
		ImageFormat: req.ImageFormat,
		IsPro:       req.IsPro,
	})
	if err != nil {
		h.respondTurnError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, turnResponse{
		Scene:    result.Scene,
		GameOver: result.GameOver,
		Ending:   result.Ending,
	})
}

func (h *SessionHandler) advanceSession(c *gin.Context) {
	sessionID := c.Param("id")
	log := h.logger.With(zap.String("sessionID", sessionID))

	var req advanceSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.ChoiceText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrChoiceTextRequired.Error()})
		return
	}

	result, err := h.turns.Advance(c.Request.Context(), sessionID, req.ChoiceText)
	if err != nil {
		h.respondTurnError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, turnResponse{
		Scene:    result.Scene,
		GameOver: result.GameOver,
		Ending:   result.Ending,
	})
}

func (h *SessionHandler) resetSession(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.turns.Reset(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("Failed to reset session",
			zap.String("sessionID", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": models.ErrInternalServer.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *SessionHandler) respondTurnError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrStoryFinished):
		c.JSON(http.StatusConflict, gin.H{"error": models.ErrStoryFinished.Error()})
	case errors.Is(err, models.ErrStoryNotStarted):
		c.JSON(http.StatusConflict, gin.H{"error": models.ErrStoryNotStarted.Error()})
	default:
		log.Error("Turn failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "story generation failed"})
	}
}
