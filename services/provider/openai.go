package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"kull-server/services/batch"
	"kull-server/services/rating"

	"go.uber.org/zap"
)

// OpenAIExecutor rates images through the OpenAI Responses API.
type OpenAIExecutor struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAIExecutor(apiKey, model, baseURL string, timeout time.Duration) *OpenAIExecutor {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-5"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAIExecutor{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *OpenAIExecutor) Execute(ctx context.Context, args ExecArgs) ([]rating.Result, error) {
	apiKey := args.Options.APIKey
	if apiKey == "" {
		apiKey = e.apiKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}

	model := args.Options.Model
	if model == "" {
		model = e.model
	}

	return batch.Run(ctx, batch.RunArgs{
		ProviderID:  args.Capability.ID,
		Images:      args.Images,
		BatchSize:   args.Capability.MaxBatchImages,
		Concurrency: args.Capability.MaxParallelBatches,
		MaxRetries:  5,
		Submit: func(ctx context.Context, group []BatchImage) ([]rating.Result, error) {
			return e.submit(ctx, apiKey, model, args.Prompt, group)
		},
	})
}

type responsesContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string             `json:"role"`
		Content []responsesContent `json:"content"`
	} `json:"input"`
}

type responsesReply struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

func (e *OpenAIExecutor) submit(ctx context.Context, apiKey, model, prompt string, group []BatchImage) ([]rating.Result, error) {
	content := []responsesContent{
		{Type: "input_text", Text: prompt + "\n\n" + ratingInstructions},
	}
	for _, img := range group {
		switch {
		case img.URL != "":
			content = append(content, responsesContent{Type: "input_image", ImageURL: img.URL})
		case img.B64 != "":
			content = append(content, responsesContent{
				Type:     "input_image",
				ImageURL: "data:image/jpeg;base64," + img.B64,
			})
		default:
			return nil, fmt.Errorf("image %s has neither url nor b64", img.ID)
		}
	}

	req := responsesRequest{Model: model}
	req.Input = append(req.Input, struct {
		Role    string             `json:"role"`
		Content []responsesContent `json:"content"`
	}{Role: "user", Content: content})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		after := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				after = time.Duration(secs) * time.Second
			}
		}
		return nil, &batch.RetryAfterError{
			After: after,
			Err:   fmt.Errorf("openai rate limited"),
		}
	}

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("openai responses call failed",
			zap.Int("status", resp.StatusCode),
			zap.Int("group_size", len(group)),
		)
		return nil, fmt.Errorf("openai responses status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var reply responsesReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("invalid openai response body: %w", err)
	}

	text := reply.OutputText
	if text == "" {
		for _, out := range reply.Output {
			for _, c := range out.Content {
				text += c.Text
			}
		}
	}
	if text == "" {
		return nil, fmt.Errorf("empty openai response")
	}

	return parseRatings(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
