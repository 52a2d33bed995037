package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/testutil"
	"github.com/smallbiznis/repairpay/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	outbox   *events.Outbox
	clock    *clock.FakeClock
	registry *prometheus.Registry
	sched    *Scheduler

	mu   sync.Mutex
	seen []events.Event
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := zaptest.NewLogger(t)
	f := &fixture{
		db:       db,
		outbox:   events.NewOutbox(testutil.NewNode(t)),
		clock:    clock.NewFakeClock(now),
		registry: prometheus.NewRegistry(),
	}
	bus := events.NewBus(log)
	bus.Subscribe(func(_ context.Context, evt events.Event) {
		f.mu.Lock()
		f.seen = append(f.seen, evt)
		f.mu.Unlock()
	})

	sched, err := New(Params{
		DB:        db,
		Log:       log,
		Clock:     f.clock,
		Outbox:    f.outbox,
		Publisher: bus,
		Metrics:   telemetry.NewMetrics(f.registry),
	})
	require.NoError(t, err)
	f.sched = sched
	return f
}

func (f *fixture) publish(t *testing.T, technicianID snowflake.ID, eventType events.EventType) events.Event {
	t.Helper()
	evt, err := f.outbox.PublishTx(context.Background(), f.db, events.Event{
		Type:         eventType,
		TechnicianID: technicianID,
		Payload:      map[string]any{"amount": 500},
	})
	require.NoError(t, err)
	return evt
}

func TestRelayOutboxPublishesStaleRows(t *testing.T) {
	f := newFixture(t, time.Now().UTC().Add(time.Minute))
	first := f.publish(t, 7, events.EventAdjustmentCreated)
	second := f.publish(t, 7, events.EventSettlementRecorded)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	require.Len(t, f.seen, 2)
	assert.ElementsMatch(t, []snowflake.ID{first.ID, second.ID}, []snowflake.ID{f.seen[0].ID, f.seen[1].ID})

	pending, err := f.outbox.ListUnpublished(context.Background(), f.db, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, float64(2), counterValue(t, f.registry, "repairpay_outbox_relayed_events_total"))

	// A second sweep has nothing left to relay.
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Len(t, f.seen, 2)
}

func TestRelayOutboxLeavesFreshRowsForInlineRelay(t *testing.T) {
	f := newFixture(t, time.Now().UTC())
	f.publish(t, 7, events.EventAdjustmentCreated)

	require.NoError(t, f.sched.RelayOutboxJob(context.Background()))
	assert.Empty(t, f.seen)

	pending, err := f.outbox.ListUnpublished(context.Background(), f.db, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.RelayOutboxJob(context.Background()))
	assert.Len(t, f.seen, 1)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceSkipsDisabledJobs(t *testing.T) {
	f := newFixture(t, time.Now().UTC().Add(time.Minute))
	f.sched.cfg.EnabledJobs = []string{"something_else"}
	f.publish(t, 7, events.EventAdjustmentCreated)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, f.seen)
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += counter(m)
		}
		return total
	}
	return 0
}

func counter(m *dto.Metric) float64 {
	if m.GetCounter() == nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
