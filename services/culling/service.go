package culling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"kull-server/services/credits"
	"kull-server/services/provider"
)

// Storage is the slice of the credit service the orchestrator needs. Tests
// substitute fakes.
type Storage interface {
	GetSummary(ctx context.Context, userID string) (*credits.Summary, error)
	RecordEntry(ctx context.Context, args credits.EntryArgs) (*credits.LedgerEntry, error)
	GetUser(ctx context.Context, userID string) (*credits.User, error)
}

type Service struct {
	registry *provider.Registry
	storage  Storage
}

type ServiceParams struct {
	fx.In

	Registry *provider.Registry
	Storage  Storage
}

func NewService(p ServiceParams) *Service {
	return &Service{registry: p.Registry, storage: p.Storage}
}

// Run tries providers in resolved order until one returns ratings. Metered
// providers are pre-checked against the balance fetched at run start and
// debited exactly once, after success; a failed ledger write fails the run
// even though the provider call succeeded, because an unmetered success
// would corrupt the books.
func (s *Service) Run(ctx context.Context, args RunArgs) (*RunResult, error) {
	if args.UserID == "" {
		return nil, errors.New("user id required")
	}
	if len(args.Images) == 0 {
		return nil, errors.New("no images submitted")
	}

	order := s.registry.ResolveOrder(args.ProviderOrder, args.AllowFallback)
	if len(order) == 0 {
		return nil, errors.New("no providers available")
	}

	summary, err := s.storage.GetSummary(ctx, args.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch credit summary: %w", err)
	}
	remaining := summary.Balance

	zapLog := zap.L().With(
		zap.String("user_id", args.UserID),
		zap.Int("image_count", len(args.Images)),
		zap.Strings("provider_order", order),
	)

	var attempts []Attempt
	for _, providerID := range order {
		attempt := Attempt{ProviderID: providerID, StartedAt: time.Now().UTC()}

		cap, capOK := s.registry.Capability(providerID)
		exec, execOK := s.registry.Lookup(providerID)
		if !capOK || !execOK {
			attempt.Status = AttemptFailed
			attempt.Reason = ReasonUnavailable
			attempt.FinishedAt = time.Now().UTC()
			attempts = append(attempts, attempt)
			zapLog.Info("provider unavailable, trying next", zap.String("provider_id", providerID))
			continue
		}

		estimate := s.registry.EstimateCost(providerID, len(args.Images))
		if cap.Metered() && estimate > remaining {
			attempt.Status = AttemptFailed
			attempt.Reason = ReasonInsufficientCredits
			attempt.FinishedAt = time.Now().UTC()
			attempts = append(attempts, attempt)
			zapLog.Warn("skipping metered provider, balance too low",
				zap.String("provider_id", providerID),
				zap.Int64("estimated_cost", estimate),
				zap.Int64("balance", remaining),
			)
			continue
		}

		ratings, err := exec.Execute(ctx, provider.ExecArgs{
			Capability: cap,
			Images:     args.Images,
			Prompt:     args.Prompt,
			Options:    args.ProviderOptions[providerID],
		})
		attempt.FinishedAt = time.Now().UTC()

		if err != nil {
			attempt.Status = AttemptFailed
			attempt.Reason = err.Error()
			attempts = append(attempts, attempt)
			zapLog.Warn("provider run failed",
				zap.String("provider_id", providerID),
				zap.Error(err),
			)
			if !args.AllowFallback {
				return nil, &ExhaustedProvidersError{Attempts: attempts}
			}
			continue
		}

		if len(ratings) == 0 {
			attempt.Status = AttemptFailed
			attempt.Reason = ReasonEmptyResponse
			attempts = append(attempts, attempt)
			zapLog.Warn("provider returned no ratings", zap.String("provider_id", providerID))
			if !args.AllowFallback {
				return nil, &ExhaustedProvidersError{Attempts: attempts}
			}
			continue
		}

		var charged int64
		if cap.Metered() {
			entry, err := s.storage.RecordEntry(ctx, credits.EntryArgs{
				UserID:      args.UserID,
				EntryType:   credits.EntryDebit,
				Credits:     estimate,
				Provider:    providerID,
				ShootID:     args.ShootID,
				Description: fmt.Sprintf("%s batch (%d images)", cap.DisplayName, len(args.Images)),
				Metadata: map[string]any{
					"provider":    providerID,
					"image_count": len(args.Images),
				},
			})
			if err != nil {
				return nil, fmt.Errorf("record debit for %s: %w", providerID, err)
			}
			charged = entry.Credits
		}

		attempt.Status = AttemptSuccess
		attempts = append(attempts, attempt)

		zapLog.Info("culling run succeeded",
			zap.String("provider_id", providerID),
			zap.Int("rating_count", len(ratings)),
			zap.Int64("credits_charged", charged),
		)

		return &RunResult{
			ProviderID:     providerID,
			Ratings:        ratings,
			CreditsCharged: charged,
			Attempts:       attempts,
		}, nil
	}

	return nil, &ExhaustedProvidersError{Attempts: attempts}
}
