package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/personaq/internal/tracing"
)

// TracingMiddleware continues an incoming W3C trace and wraps the handler
// chain in a server span. Run, report and scenario ids found in the route
// are attached so spans can be searched by run.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	tracer := tracing.Tracer("http")
	if name := strings.TrimSpace(serviceName); name != "" && name != tracing.DefaultServiceName {
		tracer = otel.Tracer(name + "/http")
	}

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.Request.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route != "" {
			span.SetName(c.Request.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
			span.SetAttributes(routeIDs(route, c.Param("id"))...)
		}
		if id := c.GetString(requestIDKey); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func routeIDs(route, id string) []attribute.KeyValue {
	if id == "" {
		return nil
	}
	switch {
	case strings.Contains(route, "/runs/:id"):
		return tracing.RunAttributes(id, "", "")
	case strings.Contains(route, "/reports/:id"):
		return tracing.RunAttributes("", id, "")
	case strings.Contains(route, "/scenarios/:id"):
		return tracing.RunAttributes("", "", id)
	}
	return nil
}
