// Package translation turns finalized captions into translated caption
// frames using the Gemini API.
package translation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/linzo/caption-relay/internal/config"
	"github.com/linzo/caption-relay/pkg/logger"
)

// Translation is the result of translating one caption.
type Translation struct {
	Text           string
	TargetLanguage string
}

// Service translates captions. A nil Service is valid and translates
// nothing.
type Service struct {
	client         *genai.Client
	model          string
	targetLanguage string
	timeout        time.Duration
	logger         *logger.Logger
}

// NewService creates the translation service, or nil when translation is
// disabled.
func NewService(ctx context.Context, cfg config.TranslationConfig, log *logger.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Service{
		client:         client,
		model:          cfg.Model,
		targetLanguage: cfg.TargetLanguage,
		timeout:        timeout,
		logger:         log.Named("translation"),
	}, nil
}

// Translate renders a caption into the configured target language. The
// model is instructed to return the translation alone so the output can be
// broadcast verbatim.
func (s *Service) Translate(ctx context.Context, text string) (*Translation, error) {
	if s == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Translate the following phone call caption into %s. "+
			"Reply with the translation only, no commentary.\n\n%s",
		s.targetLanguage, text)

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("translation request failed: %w", err)
	}

	translated := strings.TrimSpace(resp.Text())
	if translated == "" {
		return nil, fmt.Errorf("translation returned empty response")
	}

	return &Translation{
		Text:           translated,
		TargetLanguage: s.targetLanguage,
	}, nil
}
