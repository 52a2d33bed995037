package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/repairpay/internal/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes payroll domain instruments exported over OTLP.
type Metrics struct {
	orderTransitions metric.Int64Counter
	adjustmentEvents metric.Int64Counter
	returnsSettled   metric.Int64Counter
	settledAmount    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "repairpay"
	}
	meter := provider.Meter(name)

	orderTransitions, err := meter.Int64Counter("repairpay_order_transitions_total")
	if err != nil {
		return nil, err
	}
	adjustmentEvents, err := meter.Int64Counter("repairpay_adjustment_events_total")
	if err != nil {
		return nil, err
	}
	returnsSettled, err := meter.Int64Counter("repairpay_returns_settled_total")
	if err != nil {
		return nil, err
	}
	settledAmount, err := meter.Int64Counter("repairpay_settled_amount_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		orderTransitions: orderTransitions,
		adjustmentEvents: adjustmentEvents,
		returnsSettled:   returnsSettled,
		settledAmount:    settledAmount,
	}, nil
}

// RecordOrderTransition counts an order entering status.
func (m *Metrics) RecordOrderTransition(ctx context.Context, status, paymentMethod string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("payment_method", strings.TrimSpace(paymentMethod)),
	)
	m.orderTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAdjustmentEvent counts adjustment lifecycle events.
func (m *Metrics) RecordAdjustmentEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.adjustmentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReturnsSettled counts returns folded into a settlement.
func (m *Metrics) RecordReturnsSettled(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.returnsSettled.Add(ctx, count)
}

// RecordSettledAmount adds a paid settlement amount.
func (m *Metrics) RecordSettledAmount(ctx context.Context, paymentMethod string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("payment_method", strings.TrimSpace(paymentMethod)))
	m.settledAmount.Add(ctx, amount, metric.WithAttributes(attrs...))
}

// RecordEvent maps a committed payroll event onto the domain instruments.
func (m *Metrics) RecordEvent(ctx context.Context, evt events.Event) {
	if m == nil {
		return
	}
	switch evt.Type {
	case events.EventOrderStatusChanged:
		m.RecordOrderTransition(ctx, payloadString(evt.Payload, "to"), payloadString(evt.Payload, "payment_method"))
	case events.EventAdjustmentCreated, events.EventAdjustmentDeferred, events.EventAdjustmentDeleted:
		m.RecordAdjustmentEvent(ctx, string(evt.Type))
	case events.EventReturnsSettled:
		m.RecordReturnsSettled(ctx, payloadInt(evt.Payload, "count"))
	case events.EventSettlementRecorded:
		m.RecordSettledAmount(ctx, payloadString(evt.Payload, "payment_method"), payloadInt(evt.Payload, "amount"))
	}
}

// Subscribe feeds every event published on bus into m.
func Subscribe(bus *events.Bus, m *Metrics) func() {
	if bus == nil || m == nil {
		return func() {}
	}
	return bus.Subscribe(m.RecordEvent)
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"status":         {},
	"payment_method": {},
	"event_type":     {},
	"endpoint":       {},
	"status_code":    {},
	"reason":         {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
