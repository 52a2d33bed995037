package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/pkg/telemetry"
	"github.com/smallbiznis/repairpay/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobOutboxRelay = "outbox_relay"

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Outbox    *events.Outbox
	Publisher events.Publisher
	Metrics   *telemetry.Metrics `optional:"true"`
	Config    Config             `optional:"true"`
}

// Scheduler runs background payroll jobs. Today that is the outbox relay,
// which republishes events whose inline relay never completed.
type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	outbox    *events.Outbox
	publisher events.Publisher
	metrics   *telemetry.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Outbox == nil || p.Publisher == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		outbox:    p.Outbox,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = actorcontext.WithActor(ctx, actorcontext.Actor{ID: "scheduler", Role: actorcontext.RoleSystem})
	ctx, runID := correlation.EnsureCorrelationID(ctx)
	log := s.log.With(zap.String("job", name), zap.String("run_id", runID))

	start := time.Now()
	err := fn(ctx)
	if err == nil {
		log.Debug("job finished", zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out", zap.Duration("timeout", s.cfg.JobTimeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	if s.cfg.isJobEnabled(JobOutboxRelay) {
		err = errors.Join(err, s.runJob(parent, JobOutboxRelay, s.RelayOutboxJob))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RelayOutboxJob publishes unpublished outbox rows older than the relay grace
// period, one batch per call.
func (s *Scheduler) RelayOutboxJob(ctx context.Context) error {
	start := time.Now()
	records, err := s.outbox.ListUnpublished(ctx, s.db, s.cfg.RelayBatchSize)
	if err != nil {
		s.metrics.RecordOutboxBatch("error", 0, time.Since(start))
		return err
	}
	s.metrics.SetOutboxBacklog(float64(len(records)))

	cutoff := s.clock.Now().Add(-s.cfg.RelayGrace)
	relayed := 0
	var jobErr error
	for _, record := range records {
		if record.CreatedAt.After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			jobErr = errors.Join(jobErr, err)
			break
		}

		evt := record.Event()
		eventStart := time.Now()
		if err := s.outbox.Relay(ctx, s.db, s.publisher, evt); err != nil {
			s.metrics.RecordHandler(string(evt.Type), "error", time.Since(eventStart))
			s.log.Warn("outbox relay failed",
				zap.String("event_id", idString(evt.ID)),
				zap.String("event_type", string(evt.Type)),
				zap.Error(err),
			)
			jobErr = errors.Join(jobErr, err)
			continue
		}
		s.metrics.RecordHandler(string(evt.Type), "success", time.Since(eventStart))
		relayed++
	}

	status := "success"
	if jobErr != nil {
		status = "error"
	}
	s.metrics.RecordOutboxBatch(status, relayed, time.Since(start))
	if relayed > 0 {
		s.log.Info("outbox relayed", zap.Int("events", relayed), zap.Int("seen", len(records)))
	}
	return jobErr
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
