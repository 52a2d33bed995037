package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"github.com/smallbiznis/repairpay/internal/audit/repository"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newAuditService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC))

	return NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	}), clk
}

func TestAuditLog_RecordsActorAndRequestID(t *testing.T) {
	svc, _ := newAuditService(t)
	ctx := actorcontext.WithActor(context.Background(), actorcontext.Actor{ID: "admin-1", Role: actorcontext.RoleAdmin})
	ctx = actorcontext.WithRequestID(ctx, "req-42")

	tech := snowflake.ID(7)
	target := "123"
	err := svc.AuditLog(ctx, auditdomain.Entry{
		TechnicianID: &tech,
		Action:       "order.delete",
		TargetType:   "order",
		TargetID:     &target,
		Metadata:     map[string]any{"commission_amount": 15000, "": "dropped"},
	})
	require.NoError(t, err)

	logs, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TechnicianID: &tech})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, "admin", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "admin-1", *entry.ActorID)
	require.NotNil(t, entry.RequestID)
	assert.Equal(t, "req-42", *entry.RequestID)
	assert.Equal(t, "order.delete", entry.Action)
	assert.NotContains(t, entry.Metadata, "")
	assert.Contains(t, entry.Metadata, "commission_amount")
}

func TestAuditLog_DefaultsToSystemActor(t *testing.T) {
	svc, _ := newAuditService(t)
	require.NoError(t, svc.AuditLog(context.Background(), auditdomain.Entry{Action: "returns.settle"}))

	logs, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Action: "returns.settle"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "system", logs[0].ActorType)
	assert.Equal(t, "unknown", logs[0].TargetType)
	assert.Nil(t, logs[0].RequestID)
}

func TestAuditLog_Validation(t *testing.T) {
	svc, _ := newAuditService(t)
	assert.ErrorIs(t, svc.AuditLog(context.Background(), auditdomain.Entry{Action: "  "}), auditdomain.ErrInvalidAction)

	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	svc, clk := newAuditService(t)
	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, svc.AuditLog(context.Background(), auditdomain.Entry{Action: action}))
		clk.Advance(time.Minute)
	}

	logs, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Limit: 2})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].Action)
	assert.Equal(t, "b", logs[1].Action)
}

func TestListPage_WalksWithPageToken(t *testing.T) {
	svc, clk := newAuditService(t)
	for _, action := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, svc.AuditLog(context.Background(), auditdomain.Entry{Action: action}))
		clk.Advance(time.Minute)
	}

	var seen []string
	req := auditdomain.ListAuditLogPageRequest{}
	req.PageSize = 2
	for range 5 {
		resp, err := svc.ListPage(context.Background(), req)
		require.NoError(t, err)
		for _, log := range resp.AuditLogs {
			seen = append(seen, log.Action)
		}
		if !resp.PageInfo.HasMore {
			break
		}
		req.PageToken = resp.PageInfo.NextPageToken
	}
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, seen)
}

func TestListPage_RejectsBadToken(t *testing.T) {
	svc, _ := newAuditService(t)

	req := auditdomain.ListAuditLogPageRequest{}
	req.PageToken = "not-a-token"
	_, err := svc.ListPage(context.Background(), req)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
