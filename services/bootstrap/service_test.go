package bootstrap

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kull-server/pkg/config"
	"kull-server/services/credits"
	"kull-server/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestBootstrap(t *testing.T, cfg *config.Config) (*Service, *credits.Service) {
	t.Helper()

	db := testutil.NewTestDB(t, &credits.User{}, &credits.MobileDevice{}, &credits.LedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	creditsSvc := credits.NewService(credits.ServiceParams{DB: db, Node: node})
	svc := NewService(ServiceParams{DB: db, Node: node, Config: cfg, Credits: creditsSvc})
	return svc, creditsSvc
}

func TestMigrateSeedsDefaultUser(t *testing.T) {
	cfg := &config.Config{}
	cfg.Bootstrap.UserID = "local"
	cfg.Bootstrap.UserEmail = "me@example.com"
	cfg.Bootstrap.PlanID = "free"

	svc, creditsSvc := newTestBootstrap(t, cfg)
	require.NoError(t, svc.Migrate())

	user, err := creditsSvc.GetUser(context.Background(), "local")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "me@example.com", user.Email)
	require.Equal(t, "free", user.PlanID)

	balance, err := creditsSvc.GetBalance(context.Background(), "local")
	require.NoError(t, err)
	require.Equal(t, credits.Plans["free"].MonthlyCredits, balance)
}

func TestMigrateIsIdempotent(t *testing.T) {
	cfg := &config.Config{}
	cfg.Bootstrap.UserID = "local"
	cfg.Bootstrap.PlanID = "pro"

	svc, creditsSvc := newTestBootstrap(t, cfg)
	require.NoError(t, svc.Migrate())
	require.NoError(t, svc.Migrate())

	ledger, err := creditsSvc.GetLedger(context.Background(), "local", 0)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	require.Equal(t, credits.Plans["pro"].MonthlyCredits, ledger[0].Credits)
}

func TestMigrateSkipsSeedWithoutUser(t *testing.T) {
	cfg := &config.Config{}

	svc, creditsSvc := newTestBootstrap(t, cfg)
	require.NoError(t, svc.Migrate())

	balance, err := creditsSvc.GetBalance(context.Background(), "local")
	require.NoError(t, err)
	require.Zero(t, balance)
}
