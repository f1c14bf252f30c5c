package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"fable-server/internal/models"
)

// Renderer turns an image prompt into a stored image handle. The accepted
// prompt is echoed back so the caller can keep it for visual continuity.
type Renderer interface {
	// Render generates an image for the prompt. pro selects the premium
	// model. Returns models.ErrContentRejected when the generation server
	// refuses the prompt on content-policy grounds.
	Render(ctx context.Context, prompt, format string, pro bool) (imageURL, acceptedPrompt string, err error)
}

// Config holds settings for the HTTP image renderer.
type Config struct {
	ServerURL string
	Model     string
	ProModel  string
	Timeout   time.Duration
}

// Compile-time check to ensure httpRenderer implements Renderer
var _ Renderer = (*httpRenderer)(nil)

type httpRenderer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewHTTPRenderer creates a Renderer backed by an image-generation server
// exposing a JSON POST /generate endpoint.
func NewHTTPRenderer(cfg Config, logger *zap.Logger) (Renderer, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("image server URL is not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &httpRenderer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("ImageRenderer"),
	}, nil
}

type renderRequest struct {
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Model  string `json:"model"`
}

type renderResponse struct {
	ImageURL       string `json:"image_url"`
	AcceptedPrompt string `json:"accepted_prompt"`
	Error          string `json:"error,omitempty"`
}

// Model returns the model name for the requested tier.
func (r *httpRenderer) Model(pro bool) string {
	if pro && r.cfg.ProModel != "" {
		return r.cfg.ProModel
	}
	return r.cfg.Model
}

func (r *httpRenderer) Render(ctx context.Context, prompt, format string, pro bool) (string, string, error) {
	model := r.Model(pro)
	log := r.logger.With(zap.String("model", model), zap.String("format", format))

	body, err := json.Marshal(renderRequest{Prompt: prompt, Format: format, Model: model})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.ServerURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Error("Image render request failed", zap.Error(err))
		return "", "", fmt.Errorf("image render request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read render response: %w", err)
	}

	// The generation server signals content-policy refusals with 422.
	if resp.StatusCode == http.StatusUnprocessableEntity {
		log.Warn("Image prompt rejected by content policy")
		return "", "", models.ErrContentRejected
	}
	if resp.StatusCode != http.StatusOK {
		log.Error("Image server returned unexpected status", zap.Int("status", resp.StatusCode))
		return "", "", fmt.Errorf("image server returned status %d", resp.StatusCode)
	}

	var rendered renderResponse
	if err := json.Unmarshal(respBody, &rendered); err != nil {
		return "", "", fmt.Errorf("failed to decode render response: %w", err)
	}
	if rendered.Error != "" {
		return "", "", fmt.Errorf("image generation failed: %s", rendered.Error)
	}
	if rendered.ImageURL == "" {
		return "", "", fmt.Errorf("image server returned no image URL")
	}

	accepted := rendered.AcceptedPrompt
	if accepted == "" {
		accepted = prompt
	}
	log.Debug("Image rendered", zap.String("imageURL", rendered.ImageURL))
	return rendered.ImageURL, accepted, nil
}
