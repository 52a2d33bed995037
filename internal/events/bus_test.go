package events

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func TestBus_FiltersByType(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var all, settlements []EventType
	unsubAll := bus.Subscribe(func(_ context.Context, evt Event) { all = append(all, evt.Type) })
	bus.Subscribe(func(_ context.Context, evt Event) { settlements = append(settlements, evt.Type) }, EventSettlementRecorded)

	bus.Publish(context.Background(), Event{Type: EventOrderStatusChanged})
	bus.Publish(context.Background(), Event{Type: EventSettlementRecorded})

	assert.Equal(t, []EventType{EventOrderStatusChanged, EventSettlementRecorded}, all)
	assert.Equal(t, []EventType{EventSettlementRecorded}, settlements)

	unsubAll()
	unsubAll()
	bus.Publish(context.Background(), Event{Type: EventSettlementRecorded})
	assert.Len(t, all, 2)
	assert.Len(t, settlements, 2)
}

func TestBus_HandlerPanicDoesNotStopFanOut(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	called := false
	bus.Subscribe(func(context.Context, Event) { panic("boom") })
	bus.Subscribe(func(context.Context, Event) { called = true })

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: EventReturnsSettled})
	})
	assert.True(t, called)
}

func TestOutbox_PublishTxAndRelay(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Record{}))

	node, _ := snowflake.NewNode(1)
	outbox := NewOutbox(node)
	bus := NewBus(zaptest.NewLogger(t))

	var received []Event
	bus.Subscribe(func(_ context.Context, evt Event) { received = append(received, evt) })

	var stored Event
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		stored, err = outbox.PublishTx(context.Background(), tx, Event{
			Type:         EventSettlementRecorded,
			TechnicianID: node.Generate(),
			Payload:      map[string]any{"amount": 100},
			OccurredAt:   time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC),
		})
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)

	pending, err := outbox.ListUnpublished(context.Background(), db, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, EventSettlementRecorded, pending[0].EventType)

	require.NoError(t, outbox.Relay(context.Background(), db, bus, stored))
	assert.Len(t, received, 1)

	pending, err = outbox.ListUnpublished(context.Background(), db, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
