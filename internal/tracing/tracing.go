// Package tracing configures the OpenTelemetry tracer provider and carries
// run and task identity onto spans and outbound calls.
package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

const DefaultServiceName = "personaq"

const (
	AttrRunID      = attribute.Key("personaq.run_id")
	AttrReportID   = attribute.Key("personaq.report_id")
	AttrScenarioID = attribute.Key("personaq.scenario_id")
	AttrTaskNumber = attribute.Key("personaq.task_number")
	AttrPersona    = attribute.Key("personaq.persona")
)

type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// resolved fills blanks from the standard OTEL_* variables and defaults.
func (c Config) resolved() Config {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if strings.TrimSpace(c.OTLPEndpoint) == "" {
		c.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	c.OTLPEndpoint = sanitizeEndpoint(c.OTLPEndpoint)
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4317"
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		c.OTLPInsecure = parseBool(v)
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1
	}
	return c
}

// Setup installs the global tracer provider and propagator. Exporter failures
// leave tracing disabled rather than failing startup. The returned func
// flushes and stops the provider.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	cfg = cfg.resolved()

	exp, err := otlptracegrpc.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		logger.Warn("otel exporter init failed; tracing disabled", "endpoint", cfg.OTLPEndpoint, "err", err)
		return noop, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(cfg, logger)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

func exporterOptions(cfg Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

func newResource(cfg Config, logger *slog.Logger) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		logger.Warn("otel resource merge failed; using default", "err", err)
		return resource.Default()
	}
	return res
}

// sanitizeEndpoint turns a URL-style OTLP endpoint into the host:port form
// the gRPC exporter expects.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func parseBool(v string) bool {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}

// InjectHeaders writes traceparent/tracestate into h. Baggage is never
// forwarded to agents or webhook receivers.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(h))
}

func Tracer(component string) trace.Tracer {
	return otel.Tracer(DefaultServiceName + "/" + component)
}

func StartSpan(ctx context.Context, component, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer(component).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RunAttributes labels a span with the run it belongs to; blank ids are skipped.
func RunAttributes(runID, reportID, scenarioID string) []attribute.KeyValue {
	var out []attribute.KeyValue
	for _, kv := range []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrReportID.String(reportID),
		AttrScenarioID.String(scenarioID),
	} {
		if kv.Value.AsString() != "" {
			out = append(out, kv)
		}
	}
	return out
}

// TaskAttributes extends RunAttributes with the task number and persona.
func TaskAttributes(runID, reportID, scenarioID string, taskNumber int, persona string) []attribute.KeyValue {
	return append(RunAttributes(runID, reportID, scenarioID),
		AttrTaskNumber.Int(taskNumber),
		AttrPersona.String(persona),
	)
}

// LogFields returns trace_id/span_id slog args for the span in ctx, or nil
// when ctx carries no sampled span.
func LogFields(ctx context.Context) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []any{"trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String()}
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
