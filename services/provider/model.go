package provider

import (
	"context"

	"kull-server/services/batch"
	"kull-server/services/rating"
)

const (
	AppleIntelligence = "apple-intelligence"
	OpenAIGPT5        = "openai-gpt-5"
	Gemini25Flash     = "gemini-2-5-flash"
)

// Capability describes a named rating engine, on-device or cloud.
type Capability struct {
	ID                 string `json:"id"`
	Vendor             string `json:"vendor"`
	DisplayName        string `json:"displayName"`
	Description        string `json:"description"`
	Vision             bool   `json:"vision"`
	StructuredOutput   bool   `json:"structuredOutput"`
	Offline            bool   `json:"offline"`
	MaxBatchImages     int    `json:"maxBatchImages"`
	MaxParallelBatches int    `json:"maxParallelBatches"`
	RecommendedUse     string `json:"recommendedUse"`
	// CostPer1kImages is in credits (cents). Zero marks an unmetered,
	// on-device engine.
	CostPer1kImages int64 `json:"estimatedCostPer1kImages"`
}

// Metered reports whether successful runs against this capability debit the
// credit ledger.
func (c Capability) Metered() bool {
	return c.CostPer1kImages > 0
}

// BatchImage is one image submitted for rating. Remote providers need URL or
// B64; on-device providers may receive neither and resolve the file locally.
type BatchImage = batch.Image

// RunOptions are per-provider overrides supplied by the caller.
type RunOptions struct {
	Model  string `json:"model,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
}

type ExecArgs struct {
	Capability Capability
	Images     []BatchImage
	Prompt     string
	Options    RunOptions
}

// Executor rates an ordered image batch. Implementations may fan out
// internally; the orchestrator treats each Execute call as one attempt.
type Executor interface {
	Execute(ctx context.Context, args ExecArgs) ([]rating.Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, args ExecArgs) ([]rating.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, args ExecArgs) ([]rating.Result, error) {
	return f(ctx, args)
}

func seedCapabilities() []Capability {
	return []Capability{
		{
			ID:          AppleIntelligence,
			Vendor:      "Apple",
			DisplayName: "Apple Intelligence (On-Device)",
			Description: "Runs locally on Apple silicon for zero-cost structured culling and metadata polishing.",
			Vision:      true, StructuredOutput: true, Offline: true,
			MaxBatchImages: 10, MaxParallelBatches: 2,
			RecommendedUse:  "Primary option when running on-device and staying offline.",
			CostPer1kImages: 0,
		},
		{
			ID:          OpenAIGPT5,
			Vendor:      "OpenAI",
			DisplayName: "OpenAI GPT-5 Responses",
			Description: "Highest quality cloud culling with nuanced storytelling and metadata suggestions.",
			Vision:      true, StructuredOutput: true, Offline: false,
			MaxBatchImages: 20, MaxParallelBatches: 5,
			RecommendedUse:  "Hero shoots and premium delivery where narrative quality matters most.",
			CostPer1kImages: 120,
		},
		{
			ID:          Gemini25Flash,
			Vendor:      "Google",
			DisplayName: "Gemini 2.5 Flash",
			Description: "Fastest cloud fallback with strong structured-output support and lower per-image cost.",
			Vision:      true, StructuredOutput: true, Offline: false,
			MaxBatchImages: 20, MaxParallelBatches: 6,
			RecommendedUse:  "High volume culling when speed matters more than narrative depth.",
			CostPer1kImages: 95,
		},
	}
}
