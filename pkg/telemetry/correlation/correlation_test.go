package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "cid-1", cid)
	assert.Equal(t, "cid-1", ExtractCorrelationID(ctx))

	_, generated := EnsureCorrelationID(context.Background())
	assert.Len(t, generated, 26)
}

func TestAnnotatePayload(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-2")
	ctx = ContextWithRemoteSpan(ctx, "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")

	payload := AnnotatePayload(ctx, map[string]any{"amount": int64(10)})
	assert.Equal(t, "cid-2", payload["correlation_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", payload["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", payload["span_id"])
	assert.Equal(t, int64(10), payload["amount"])
}

func TestAnnotatePayloadDoesNotOverwrite(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-3")
	payload := AnnotatePayload(ctx, map[string]any{"correlation_id": "upstream"})
	assert.Equal(t, "upstream", payload["correlation_id"])

	empty := AnnotatePayload(context.Background(), nil)
	require.NotNil(t, empty)
	assert.Empty(t, empty)
}
