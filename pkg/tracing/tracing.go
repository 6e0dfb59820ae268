package tracing

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "meetjoin"

// TracerProvider owns the exporter pipeline; the zero value is a no-op.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	JaegerURL      string
	Environment    string
	SampleRate     float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "meetjoin",
		ServiceVersion: buildVersion(),
		JaegerURL:      "http://localhost:14268/api/traces",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// buildVersion reports the main module version embedded by the go tool.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "devel"
	}
	return info.Main.Version
}

// Init installs a Jaeger-backed global tracer provider. Root spans are
// sampled at SampleRate and child spans follow their parent.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter: %w", err)
	}

	version := cfg.ServiceVersion
	if version == "" {
		version = buildVersion()
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, name, opts...)
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records an error in the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Common span attributes
var (
	MeetingIDKey  = attribute.Key("meeting.id")
	AttendeeIDKey = attribute.Key("attendee.id")
	DeviceIDKey   = attribute.Key("device.id")
	TransformKey  = attribute.Key("transform.kind")
	TileIDKey     = attribute.Key("tile.id")
	DurationKey   = attribute.Key("duration_ms")
)

// TraceHTTPRequest traces a control API request
func TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s", method),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(path),
		),
	)
}

// TraceProvisioning traces a credentials request for meetingID
func TraceProvisioning(ctx context.Context, meetingID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "provisioning.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(MeetingIDKey.String(meetingID)),
	)
}

// TraceMeeting traces one coordinator operation such as initialize or leave
func TraceMeeting(ctx context.Context, operation, meetingID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("meeting.%s", operation),
		trace.WithAttributes(MeetingIDKey.String(meetingID)),
	)
}

// TraceTransform traces a transform pipeline change
func TraceTransform(ctx context.Context, operation, kind string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("transform.%s", operation),
		trace.WithAttributes(TransformKey.String(kind)),
	)
}

// TraceSignaling traces a signaling message exchanged with the media service
func TraceSignaling(ctx context.Context, messageType, attendeeID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("signaling.%s", messageType),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("signaling.message_type", messageType),
			AttendeeIDKey.String(attendeeID),
		),
	)
}

// MeasureDuration records the elapsed time of an operation on the current span
func MeasureDuration(ctx context.Context, start time.Time, operation string) {
	AddSpanAttributes(ctx,
		attribute.String("operation", operation),
		DurationKey.Int64(time.Since(start).Milliseconds()),
	)
}
