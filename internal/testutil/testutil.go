// Package testutil wires the in-memory database and actors shared by service tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/migration"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Saturday 2024-03-09 10:00 UTC, inside the payout week starting that day.
var DefaultNow = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

// NewDB opens a migrated in-memory database limited to one connection.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func NewClock() *clock.FakeClock {
	return clock.NewFakeClock(DefaultNow)
}

// NewAuthorizer builds the casbin-backed authorization service on db.
func NewAuthorizer(t *testing.T, db *gorm.DB) authorization.Service {
	t.Helper()
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	return authorization.NewService(authorization.Params{
		Log:      zaptest.NewLogger(t),
		Enforcer: enforcer,
	})
}

func AdminContext() context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{ID: "admin-1", Role: actorcontext.RoleAdmin})
}

func TechnicianContext(id snowflake.ID) context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{ID: id.String(), Role: actorcontext.RoleTechnician})
}
