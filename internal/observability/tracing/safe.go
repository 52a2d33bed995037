package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/repairpay/internal/payrollerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Keys that may carry customer data never leave the process as span attributes.
var blockedAttributeKeys = map[attribute.Key]struct{}{
	"customer_name":  {},
	"customer_phone": {},
	"device_serial":  {},
	"note":           {},
	"authorization":  {},
}

// SafeAttributes drops attributes whose keys are blocked or empty.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := attribute.Key(strings.ToLower(strings.TrimSpace(string(attr.Key))))
		if key == "" {
			continue
		}
		if _, blocked := blockedAttributeKeys[key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces err to its payroll error code so span events carry no free text.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(payrollerr.Code(err))
}

// ExtractContext reads the inbound trace context using the global propagator.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
