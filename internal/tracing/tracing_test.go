package tracing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEnd(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := Start(context.Background(), "docflow.SubmitDocument", attribute.String("document.type", "admission"))
	End(ok, nil)

	_, failed := Start(context.Background(), "docflow.ApplyAction")
	End(failed, fmt.Errorf("document changed concurrently"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "docflow.SubmitDocument", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("document.type", "admission"))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "document changed concurrently", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
}
