package credits

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"kull-server/pkg/db/option"
	"kull-server/pkg/rediskey"
	"kull-server/pkg/repository"
	"kull-server/services/notify"
)

// ErrInsufficientCredits is returned when a debit would overdraw the balance.
var ErrInsufficientCredits = errors.New("insufficient credits")

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	bus   *notify.Bus
	redis *redis.Client

	lowThreshold  int64
	alertCooldown time.Duration

	ledger  repository.Repository[LedgerEntry]
	users   repository.Repository[User]
	devices repository.Repository[MobileDevice]
}

type ServiceParams struct {
	fx.In

	DB    *gorm.DB
	Node  *snowflake.Node
	Bus   *notify.Bus     `optional:"true"`
	Redis *redis.Client   `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		bus:           p.Bus,
		redis:         p.Redis,
		lowThreshold:  500,
		alertCooldown: 24 * time.Hour,

		ledger:  repository.ProvideStore[LedgerEntry](p.DB),
		users:   repository.ProvideStore[User](p.DB),
		devices: repository.ProvideStore[MobileDevice](p.DB),
	}
}

// SetLowBalanceThreshold overrides the balance below which debits emit a
// credit_low event.
func (s *Service) SetLowBalanceThreshold(threshold int64) {
	s.lowThreshold = threshold
}

// RecordEntry appends one ledger row inside a transaction that locks the
// user's latest entry. Reading the previous balance and writing the next row
// serialize per user, so concurrent debits cannot both observe the same
// balance and double-spend.
func (s *Service) RecordEntry(ctx context.Context, args EntryArgs) (*LedgerEntry, error) {
	if args.UserID == "" {
		return nil, errors.New("user id required")
	}
	if args.Credits <= 0 {
		return nil, errors.New("credits must be positive")
	}
	switch args.EntryType {
	case EntryDebit, EntryCredit, EntryBonus:
	default:
		return nil, errors.New("unsupported entry type")
	}

	var entry *LedgerEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		lastEntry, err := s.getLastEntry(ctx, tx, args.UserID)
		if err != nil {
			return err
		}

		var (
			previousHash          = "GENESIS"
			previousBalance int64 = 0
		)
		if lastEntry != nil {
			previousHash = lastEntry.Hash
			previousBalance = lastEntry.Balance
		}

		newBalance := previousBalance
		if args.EntryType == EntryDebit {
			if previousBalance < args.Credits {
				return ErrInsufficientCredits
			}
			newBalance -= args.Credits
		} else {
			newBalance += args.Credits
		}

		transactionID, err := GenerateTransactionID()
		if err != nil {
			zap.L().Error("failed to generate transaction id", zap.Error(err))
			return err
		}

		var metaBytes []byte
		if args.Metadata != nil {
			metaBytes, _ = json.Marshal(args.Metadata)
		}

		entry = &LedgerEntry{
			ID:            s.node.Generate().String(),
			CreatedAt:     time.Now().UTC(),
			UserID:        args.UserID,
			EntryType:     args.EntryType,
			Credits:       args.Credits,
			Balance:       newBalance,
			Provider:      args.Provider,
			ShootID:       args.ShootID,
			TransactionID: transactionID,
			Description:   args.Description,
			PreviousHash:  previousHash,
			Metadata:      datatypes.JSON(metaBytes),
		}
		entry.Hash = entry.GenerateHash()

		return s.ledger.WithTrx(tx).Create(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	if args.EntryType == EntryDebit && entry.Balance < s.lowThreshold {
		s.emitCreditLow(ctx, args.UserID, entry.Balance)
	}

	return entry, nil
}

func (s *Service) getLastEntry(ctx context.Context, tx *gorm.DB, userID string) (*LedgerEntry, error) {
	return s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLockingUpdate(),
	)
}

// GetBalance reads the denormalized balance off the latest ledger row.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	lastEntry, err := s.getLastEntry(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	if lastEntry == nil {
		return 0, nil
	}
	return lastEntry.Balance, nil
}

// GetLedger returns the user's most recent entries, newest first.
func (s *Service) GetLedger(ctx context.Context, userID string, limit int) ([]*LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.ledger.Find(ctx, &LedgerEntry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit),
	)
}

// GetSummary assembles the account view: balance, plan, and a recent ledger
// page.
func (s *Service) GetSummary(ctx context.Context, userID string) (*Summary, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	planID := DefaultPlanID
	if user != nil && user.PlanID != "" {
		planID = user.PlanID
	}
	plan := PlanFor(planID)

	ledger, err := s.GetLedger(ctx, userID, 20)
	if err != nil {
		return nil, err
	}

	var balance int64
	if len(ledger) > 0 {
		balance = ledger[0].Balance
	}

	var shootsRemaining float64
	if plan.EstimatedCreditsPerShoot > 0 && balance > 0 {
		shootsRemaining = float64(balance) / float64(plan.EstimatedCreditsPerShoot)
	}

	return &Summary{
		Balance:                  balance,
		PlanID:                   plan.ID,
		PlanDisplayName:          plan.DisplayName,
		MonthlyAllowance:         plan.MonthlyCredits,
		EstimatedShootsRemaining: shootsRemaining,
		Ledger:                   ledger,
	}, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.users.FindOne(ctx, &User{ID: userID})
}

// GetDevices lists the user's registered push devices.
func (s *Service) GetDevices(ctx context.Context, userID string) ([]*MobileDevice, error) {
	return s.devices.Find(ctx, &MobileDevice{UserID: userID})
}

// NotifyDevices converts the user's registrations into push targets.
func (s *Service) NotifyDevices(ctx context.Context, userID string) []notify.Device {
	devices, err := s.GetDevices(ctx, userID)
	if err != nil {
		zap.L().Warn("failed to load mobile devices", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	out := make([]notify.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, notify.Device{Token: d.Token, Platform: d.Platform, DeviceName: d.DeviceName})
	}
	return out
}

// VerifyChain walks the user's full ledger oldest-first and checks both each
// row's hash and the previous-hash linkage.
func (s *Service) VerifyChain(ctx context.Context, userID string) error {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
	if err != nil {
		return err
	}

	previous := "GENESIS"
	for _, entry := range entries {
		if !entry.VerifyHash() {
			return errors.New("ledger entry hash mismatch: " + entry.ID)
		}
		if entry.PreviousHash != previous {
			return errors.New("ledger chain broken at entry " + entry.ID)
		}
		previous = entry.Hash
	}
	return nil
}

func (s *Service) emitCreditLow(ctx context.Context, userID string, remaining int64) {
	if s.bus == nil {
		return
	}

	// Without redis every qualifying debit alerts; with it the alert fires
	// at most once per cooldown window.
	if s.redis != nil {
		key := rediskey.BuildCreditLowAlertKey(userID)
		set, err := s.redis.SetNX(ctx, key, remaining, s.alertCooldown).Result()
		if err != nil {
			zap.L().Warn("credit low alert throttle check failed", zap.String("user_id", userID), zap.Error(err))
		} else if !set {
			return
		}
	}

	notify.EmitCreditLow(s.bus, userID, remaining, s.NotifyDevices(ctx, userID))
}
