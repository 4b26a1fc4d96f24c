package kafkax

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
	assert.Nil(t, ReadyCheck(""))
}

func TestEventMetaHeaders(t *testing.T) {
	headers := EventMeta{EventID: "e-1", EventType: "booking.appointment.created.v1"}.Headers()
	assert.Equal(t, "e-1", HeaderValue(headers, HeaderEventID))
	assert.Equal(t, "booking.appointment.created.v1", HeaderValue(headers, HeaderEventType))
	assert.Empty(t, HeaderValue(headers, "missing"))
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventMeta{EventID: "e"}.Headers())
	assert.NotEmpty(t, HeaderValue(headers, "traceparent"))

	out := otel.GetTextMapPropagator().Extract(context.Background(), &headerCarrier{headers: headers})
	assert.Equal(t, sc.TraceID(), trace.SpanContextFromContext(out).TraceID())
}
