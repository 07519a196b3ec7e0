// Package tracing installs the OpenTelemetry tracer provider and offers a
// small helper for service spans.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pesio-ai/be-docflow"

var (
	providerOnce sync.Once
	providerErr  error
	provider     *sdktrace.TracerProvider
)

// Init configures the stdout exporter. An empty output writes to os.Stdout.
// The first call wins; later calls return the first result.
func Init(serviceName, serviceVersion, output string) (shutdown func(context.Context) error, err error) {
	providerOnce.Do(func() {
		var w io.Writer = os.Stdout
		if output != "" {
			f, ferr := os.Create(output)
			if ferr != nil {
				providerErr = ferr
				return
			}
			w = f
		}

		exporter, eerr := stdouttrace.New(stdouttrace.WithWriter(w))
		if eerr != nil {
			providerErr = eerr
			return
		}

		res, rerr := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if rerr != nil {
			providerErr = rerr
			return
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})

	if providerErr != nil {
		return nil, providerErr
	}
	return func(ctx context.Context) error {
		if provider == nil {
			return nil
		}
		return provider.Shutdown(ctx)
	}, nil
}

// Start opens a span on the global provider. With no provider installed the
// span is a no-op.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err (when non-nil) and ends the span.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
