package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"kull-server/pkg/taskname"
)

const TaskGrantAllowance = taskname.CreditsGrantAllowance

type GrantAllowancePayload struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}

func NewGrantAllowanceTask(p GrantAllowancePayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(TaskGrantAllowance, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Queue("default"),
	)
}

var TaskModule = fx.Module("task.credits",
	fx.Provide(NewService),
	fx.Invoke(applyConfig),
	fx.Invoke(registerTaskHandlers),
)

type registerTaskParams struct {
	fx.In

	Mux     *asynq.ServeMux
	Service *Service
}

func registerTaskHandlers(p registerTaskParams) {
	p.Mux.HandleFunc(TaskGrantAllowance, p.Service.HandleGrantAllowanceTask)
}

// HandleGrantAllowanceTask writes one credit entry for the user's monthly
// plan allowance. Retried by asynq on failure; each retry writes a fresh
// entry only if the previous attempt never committed.
func (s *Service) HandleGrantAllowanceTask(ctx context.Context, t *asynq.Task) error {
	var payload GrantAllowancePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("user_id", payload.UserID),
		zap.String("plan_id", payload.PlanID),
	)

	plan := PlanFor(payload.PlanID)
	if plan.MonthlyCredits <= 0 {
		zapLog.Info("plan grants no credits, skipping")
		return nil
	}

	entry, err := s.RecordEntry(ctx, EntryArgs{
		UserID:      payload.UserID,
		EntryType:   EntryCredit,
		Credits:     plan.MonthlyCredits,
		Description: fmt.Sprintf("%s plan monthly allowance", plan.DisplayName),
		Metadata:    map[string]any{"plan_id": plan.ID},
	})
	if err != nil {
		zapLog.Error("failed to grant allowance", zap.Error(err))
		return err
	}

	zapLog.Info("monthly allowance granted",
		zap.String("entry_id", entry.ID),
		zap.Int64("credits", entry.Credits),
		zap.Int64("balance", entry.Balance),
	)
	return nil
}
