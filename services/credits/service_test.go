package credits

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kull-server/services/notify"
	"kull-server/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T, bus *notify.Bus) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &User{}, &MobileDevice{}, &LedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node, Bus: bus})
}

func seedUser(t *testing.T, svc *Service, user *User) {
	t.Helper()
	require.NoError(t, svc.db.Create(user).Error)
}

func TestRecordEntryCreditThenDebit(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	credit, err := svc.RecordEntry(ctx, EntryArgs{
		UserID:      "u1",
		EntryType:   EntryCredit,
		Credits:     1000,
		Description: "starter credits",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), credit.Balance)
	require.Equal(t, "GENESIS", credit.PreviousHash)
	require.NotEmpty(t, credit.TransactionID)

	debit, err := svc.RecordEntry(ctx, EntryArgs{
		UserID:      "u1",
		EntryType:   EntryDebit,
		Credits:     120,
		Provider:    "openai-gpt-5",
		Description: "OpenAI GPT-5 Responses batch (3 images)",
	})
	require.NoError(t, err)
	require.Equal(t, int64(880), debit.Balance)
	require.Equal(t, credit.Hash, debit.PreviousHash)

	balance, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(880), balance)
}

func TestRecordEntryInsufficientCredits(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryDebit, Credits: 10})
	require.ErrorIs(t, err, ErrInsufficientCredits)

	_, err = svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryCredit, Credits: 50})
	require.NoError(t, err)

	_, err = svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryDebit, Credits: 51})
	require.ErrorIs(t, err, ErrInsufficientCredits)

	// The failed debit must not have written a row.
	ledger, err := svc.GetLedger(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
}

func TestRecordEntryValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryArgs{EntryType: EntryCredit, Credits: 10})
	require.Error(t, err)

	_, err = svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryCredit, Credits: 0})
	require.Error(t, err)

	_, err = svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: "purchase", Credits: 10})
	require.Error(t, err)
}

func TestConcurrentDebitsSerialize(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryCredit, Credits: 500})
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordEntry(ctx, EntryArgs{
				UserID:    "u1",
				EntryType: EntryDebit,
				Credits:   100,
			}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 500 credits can fund at most five 100-credit debits; the rest must
	// fail instead of double-spending.
	require.Equal(t, 5, succeeded)

	balance, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)

	require.NoError(t, svc.VerifyChain(ctx, "u1"))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryCredit, Credits: 100})
	require.NoError(t, err)
	entry, err := svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryDebit, Credits: 30})
	require.NoError(t, err)

	require.NoError(t, svc.VerifyChain(ctx, "u1"))

	require.NoError(t, svc.db.Model(&LedgerEntry{}).
		Where("id = ?", entry.ID).
		Update("credits", 5).Error)

	require.Error(t, svc.VerifyChain(ctx, "u1"))
}

func TestGetSummary(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	seedUser(t, svc, &User{ID: "u1", Email: "ansel@example.com", PlanID: "pro"})

	_, err := svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryCredit, Credits: 600})
	require.NoError(t, err)
	_, err = svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryDebit, Credits: 120})
	require.NoError(t, err)

	summary, err := svc.GetSummary(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(480), summary.Balance)
	require.Equal(t, "pro", summary.PlanID)
	require.Equal(t, "Pro", summary.PlanDisplayName)
	require.Equal(t, int64(10000), summary.MonthlyAllowance)
	require.InDelta(t, 4.0, summary.EstimatedShootsRemaining, 0.001)
	require.Len(t, summary.Ledger, 2)
	// Newest first.
	require.Equal(t, EntryDebit, summary.Ledger[0].EntryType)
}

func TestGetSummaryUnknownUserFallsBackToFreePlan(t *testing.T) {
	svc := newTestService(t, nil)

	summary, err := svc.GetSummary(context.Background(), "ghost")
	require.NoError(t, err)
	require.Equal(t, "free", summary.PlanID)
	require.Zero(t, summary.Balance)
	require.Empty(t, summary.Ledger)
}

func TestDebitEmitsCreditLow(t *testing.T) {
	bus := notify.NewBus()
	svc := newTestService(t, bus)
	svc.SetLowBalanceThreshold(200)
	ctx := context.Background()

	var events []notify.Event
	bus.Subscribe(func(e notify.Event) { events = append(events, e) })

	_, err := svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryCredit, Credits: 300})
	require.NoError(t, err)
	require.Empty(t, events)

	// Balance 180 after this debit, under the 200 threshold.
	_, err = svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryDebit, Credits: 120})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, notify.TypeCreditLow, events[0].Type)

	payload, ok := events[0].Payload.(notify.CreditLow)
	require.True(t, ok)
	require.Equal(t, int64(180), payload.Remaining)
}

func TestDebitAboveThresholdStaysQuiet(t *testing.T) {
	bus := notify.NewBus()
	svc := newTestService(t, bus)
	svc.SetLowBalanceThreshold(100)
	ctx := context.Background()

	var events int
	bus.Subscribe(func(e notify.Event) { events++ })

	_, err := svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryCredit, Credits: 1000})
	require.NoError(t, err)
	_, err = svc.RecordEntry(ctx, EntryArgs{UserID: "u1", EntryType: EntryDebit, Credits: 100})
	require.NoError(t, err)
	require.Zero(t, events)
}

func TestHandleGrantAllowanceTask(t *testing.T) {
	svc := newTestService(t, nil)

	payload, err := json.Marshal(GrantAllowancePayload{UserID: "u1", PlanID: "pro"})
	require.NoError(t, err)

	task := asynq.NewTask(TaskGrantAllowance, payload)
	require.NoError(t, svc.HandleGrantAllowanceTask(context.Background(), task))

	balance, err := svc.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(10000), balance)

	require.Error(t, svc.HandleGrantAllowanceTask(context.Background(),
		asynq.NewTask(TaskGrantAllowance, []byte("not json"))))
}

func TestNotifyDevices(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.db.Create(&MobileDevice{
		ID: "d1", UserID: "u1", Token: "token-1234567890", Platform: "ios",
	}).Error)

	devices := svc.NotifyDevices(ctx, "u1")
	require.Len(t, devices, 1)
	require.Equal(t, "token-1234567890", devices[0].Token)
	require.Equal(t, "ios", devices[0].Platform)

	require.Empty(t, svc.NotifyDevices(ctx, "u2"))
}
