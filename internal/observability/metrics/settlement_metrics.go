package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"gorm.io/gorm"
)

const (
	SettlementReasonDeadlineExceeded     = "deadline_exceeded"
	SettlementReasonForbidden            = "forbidden"
	SettlementReasonInvalidInput         = "invalid_input"
	SettlementReasonInvalidAmount        = "invalid_amount"
	SettlementReasonConflict             = "conflict"
	SettlementReasonNotFound             = "not_found"
	SettlementReasonDBLockTimeout        = "db_lock_timeout"
	SettlementReasonSerializationFailure = "serialization_failure"
	SettlementReasonUniqueViolation      = "unique_violation"
	SettlementReasonPersistence          = "persistence"
	SettlementReasonUnknown              = "unknown"
)

// SettlementMetrics tracks payroll settlement runs.
type SettlementMetrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    prometheus.Histogram
	paid        *prometheus.CounterVec
	deducted    prometheus.Counter
	carriedOver prometheus.Counter
}

var (
	settlementMetricsOnce sync.Once
	settlementMetrics     *SettlementMetrics
)

// Settlement returns the process-wide settlement metrics registered on the default registerer.
func Settlement() *SettlementMetrics {
	return SettlementWithConfig(Config{})
}

func SettlementWithConfig(cfg Config) *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementMetrics = NewSettlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return settlementMetrics
}

// NewSettlementMetrics registers the settlement instruments on registerer.
func NewSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "repairpay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "repairpay_settlement_runs_total",
		Help:        "Settlement runs by payment method.",
		ConstLabels: constLabels,
	}, []string{"payment_method"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "repairpay_settlement_failures_total",
		Help:        "Settlement failures by step and low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"step", "reason"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "repairpay_settlement_duration_seconds",
		Help:        "Settlement latency from state load to confirmed read-back.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	})
	paid := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "repairpay_settlement_paid_minor_units_total",
		Help:        "Amount paid out by settlements, in minor currency units.",
		ConstLabels: constLabels,
	}, []string{"payment_method"})
	deducted := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "repairpay_settlement_deducted_minor_units_total",
		Help:        "Adjustment amounts applied by settlements, in minor currency units.",
		ConstLabels: constLabels,
	})
	carriedOver := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "repairpay_settlement_carried_over_total",
		Help:        "Adjustment remainders deferred to the next payout week.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(runs, failures, duration, paid, deducted, carriedOver)

	return &SettlementMetrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		paid:        paid,
		deducted:    deducted,
		carriedOver: carriedOver,
	}
}

// ObserveSettled records a confirmed settlement.
func (m *SettlementMetrics) ObserveSettled(paymentMethod string, amount, deducted int64, carriedOver int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(paymentMethod).Inc()
	m.paid.WithLabelValues(paymentMethod).Add(float64(amount))
	m.deducted.Add(float64(deducted))
	m.carriedOver.Add(float64(carriedOver))
	m.duration.Observe(elapsed.Seconds())
}

// IncFailure records a failed settlement at step.
func (m *SettlementMetrics) IncFailure(step string, err error) {
	if m == nil || err == nil {
		return
	}
	m.failures.WithLabelValues(step, ClassifySettlementReason(err)).Inc()
}

// ClassifySettlementReason maps an error onto a low-cardinality reason label.
func ClassifySettlementReason(err error) string {
	if err == nil {
		return SettlementReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SettlementReasonDeadlineExceeded
	}
	if isDBLockTimeout(err) {
		return SettlementReasonDBLockTimeout
	}
	if isSerializationFailure(err) {
		return SettlementReasonSerializationFailure
	}
	if isUniqueViolation(err) {
		return SettlementReasonUniqueViolation
	}
	switch payrollerr.Kind(err) {
	case payrollerr.ErrForbidden:
		return SettlementReasonForbidden
	case payrollerr.ErrInvalidInput, payrollerr.ErrInvalidState:
		return SettlementReasonInvalidInput
	case payrollerr.ErrInvalidAmount:
		return SettlementReasonInvalidAmount
	case payrollerr.ErrConflict:
		return SettlementReasonConflict
	case payrollerr.ErrNotFound:
		return SettlementReasonNotFound
	case payrollerr.ErrPersistenceFailure:
		return SettlementReasonPersistence
	}
	return SettlementReasonUnknown
}

// IsRetryable reports whether a caller may rerun the settlement from fresh state.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isDBLockTimeout(err) || isSerializationFailure(err) {
		return true
	}
	kind := payrollerr.Kind(err)
	return kind == payrollerr.ErrConflict || kind == payrollerr.ErrPersistenceFailure
}

func isDBLockTimeout(err error) bool {
	return hasPGCode(err, "55P03")
}

func isSerializationFailure(err error) bool {
	return hasPGCode(err, "40001")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasPGCode(err, "23505")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
