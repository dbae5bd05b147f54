package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type NarrativeInput struct {
	ShootName string
	Stats     Stats
}

// Generator produces the report narrative. Implementations may call out to a
// model; callers always have the template fallback.
type Generator interface {
	Generate(ctx context.Context, input NarrativeInput) (string, error)
}

// TemplateNarrative is the deterministic one-line summary used when no
// generator is configured or the configured one fails.
func TemplateNarrative(stats Stats) string {
	return fmt.Sprintf("Processed %d images. Found %d heroes (5★) and %d strong keepers (4★).",
		stats.TotalImages, stats.HeroCount, stats.KeeperCount)
}

// TemplateGenerator always returns the template narrative.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(ctx context.Context, input NarrativeInput) (string, error) {
	return TemplateNarrative(input.Stats), nil
}

// OpenAIGenerator asks a small model for a polished narrative.
type OpenAIGenerator struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func (g *OpenAIGenerator) Generate(ctx context.Context, input NarrativeInput) (string, error) {
	if g.APIKey == "" {
		return TemplateNarrative(input.Stats), nil
	}

	model := g.Model
	if model == "" {
		model = "gpt-5-nano"
	}
	baseURL := g.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	base := TemplateNarrative(input.Stats)
	payload := map[string]any{
		"model": model,
		"input": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{
						"type": "input_text",
						"text": base + "\nWrite a concise summary (<=120 words) highlighting stand-out moments.",
					},
				},
			},
		},
		"text":      map[string]any{"format": map[string]any{"type": "text"}, "verbosity": "low"},
		"reasoning": map[string]any{"effort": "minimal", "summary": "auto"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("narrative generation failed", zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("narrative status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var reply struct {
		OutputText string `json:"output_text"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", err
	}
	if reply.OutputText == "" {
		return "", fmt.Errorf("empty narrative response")
	}
	return reply.OutputText, nil
}
