package culling

import (
	"fmt"
	"strings"
	"time"

	"kull-server/services/provider"
	"kull-server/services/rating"
)

// Attempt statuses.
const (
	AttemptSuccess = "success"
	AttemptFailed  = "failed"
)

// Well-known failure reasons. Executor errors carry their own message.
const (
	ReasonUnavailable         = "unavailable"
	ReasonInsufficientCredits = "insufficient-credits"
	ReasonEmptyResponse       = "empty-response"
)

// Attempt records one provider try within a run, success or not.
type Attempt struct {
	ProviderID string    `json:"providerId"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type RunArgs struct {
	UserID          string
	ShootID         string
	Prompt          string
	Images          []provider.BatchImage
	ProviderOrder   []string
	AllowFallback   bool
	ProviderOptions map[string]provider.RunOptions
}

type RunResult struct {
	ProviderID     string          `json:"providerId"`
	Ratings        []rating.Result `json:"ratings"`
	CreditsCharged int64           `json:"creditsCharged"`
	Attempts       []Attempt       `json:"attempts"`
}

// ExhaustedProvidersError reports that every provider in the resolved order
// failed, with the per-provider attempt trail.
type ExhaustedProvidersError struct {
	Attempts []Attempt
}

func (e *ExhaustedProvidersError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.ProviderID, a.Reason))
	}
	return "all providers failed: " + strings.Join(reasons, "; ")
}
