package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kull-server/pkg/config"
	"kull-server/pkg/repository"
	"kull-server/services/credits"
)

// Service prepares the database on startup. It runs the schema migration,
// ensures the default local user exists, and grants that user its first
// monthly allowance so a fresh install can run shoots immediately.
type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	config  *config.Config
	credits *credits.Service
	users   repository.Repository[credits.User]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Credits *credits.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		config:  p.Config,
		credits: p.Credits,
		users:   repository.ProvideStore[credits.User](p.DB),
	}
}

func (s *Service) Migrate() error {
	ctx := context.Background()

	if err := s.db.AutoMigrate(
		&credits.User{},
		&credits.MobileDevice{},
		&credits.LedgerEntry{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	userID := s.config.Bootstrap.UserID
	if userID == "" {
		zap.L().Warn("[bootstrap] no default user configured, skipping seed")
		return nil
	}

	exist, err := s.users.FindOne(ctx, &credits.User{ID: userID})
	if err != nil {
		return fmt.Errorf("check default user: %w", err)
	}
	if exist != nil {
		zap.L().Info("[bootstrap] default user already exists", zap.String("user_id", userID))
		return nil
	}

	plan := credits.PlanFor(s.config.Bootstrap.PlanID)
	now := time.Now()

	user := &credits.User{
		ID:        userID,
		Email:     s.config.Bootstrap.UserEmail,
		PlanID:    plan.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return fmt.Errorf("create default user: %w", err)
	}

	if _, err := s.credits.RecordEntry(ctx, credits.EntryArgs{
		UserID:      userID,
		EntryType:   credits.EntryCredit,
		Credits:     plan.MonthlyCredits,
		Description: fmt.Sprintf("%s plan monthly allowance", plan.DisplayName),
	}); err != nil {
		return fmt.Errorf("grant initial allowance: %w", err)
	}

	zap.L().Info("[bootstrap] default user seeded",
		zap.String("user_id", userID),
		zap.String("plan_id", plan.ID),
		zap.Int64("credits", plan.MonthlyCredits),
	)
	return nil
}
