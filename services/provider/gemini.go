package provider

import (
	"context"
	"encoding/base64"
	"fmt"

	"kull-server/services/batch"
	"kull-server/services/rating"

	"google.golang.org/genai"
)

// GeminiExecutor rates images through the Gemini API using structured JSON
// output.
type GeminiExecutor struct {
	apiKey string
	model  string
}

func NewGeminiExecutor(apiKey, model string) *GeminiExecutor {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiExecutor{apiKey: apiKey, model: model}
}

func (e *GeminiExecutor) Execute(ctx context.Context, args ExecArgs) ([]rating.Result, error) {
	apiKey := args.Options.APIKey
	if apiKey == "" {
		apiKey = e.apiKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing Gemini API key")
	}

	model := args.Options.Model
	if model == "" {
		model = e.model
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return batch.Run(ctx, batch.RunArgs{
		ProviderID:  args.Capability.ID,
		Images:      args.Images,
		BatchSize:   args.Capability.MaxBatchImages,
		Concurrency: args.Capability.MaxParallelBatches,
		MaxRetries:  5,
		Submit: func(ctx context.Context, group []BatchImage) ([]rating.Result, error) {
			return e.submit(ctx, client, model, args.Prompt, group)
		},
	})
}

func (e *GeminiExecutor) submit(ctx context.Context, client *genai.Client, model, prompt string, group []BatchImage) ([]rating.Result, error) {
	parts := []*genai.Part{
		{Text: prompt + "\n\n" + ratingInstructions},
	}
	for _, img := range group {
		switch {
		case img.B64 != "":
			data, err := base64.StdEncoding.DecodeString(img.B64)
			if err != nil {
				return nil, fmt.Errorf("image %s has invalid base64: %w", img.ID, err)
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: data},
			})
		case img.URL != "":
			parts = append(parts, &genai.Part{
				FileData: &genai.FileData{MIMEType: "image/jpeg", FileURI: img.URL},
			})
		default:
			return nil, fmt.Errorf("image %s has neither url nor b64", img.ID)
		}
	}

	resp, err := client.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty gemini response")
	}

	return parseRatings(text)
}
