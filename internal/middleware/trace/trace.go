// Package trace assigns every request a correlation ID, echoes it back in the
// X-Trace-Id header and opens a server span around the handler.
package trace

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/Skotchmaster/auth_backend/internal/telemetry"
)

const (
	HeaderTraceID = "X-Trace-Id"
	ContextKey    = "trace_id"
)

type ctxKey struct{}

var validTraceID = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,128}$`)

func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			traceID := req.Header.Get(HeaderTraceID)
			if !validTraceID.MatchString(traceID) {
				traceID = uuid.NewString()
			}
			req.Header.Set(HeaderTraceID, traceID)
			c.Response().Header().Set(HeaderTraceID, traceID)
			c.Set(ContextKey, traceID)

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			spanName := c.Path()
			if spanName == "" {
				spanName = req.URL.Path
			}
			ctx, span := telemetry.Tracer().Start(ctx, req.Method+" "+spanName,
				oteltrace.WithSpanKind(oteltrace.SpanKindServer),
				oteltrace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", c.Path()),
					attribute.String("http.client_ip", c.RealIP()),
					attribute.String("trace.correlation_id", traceID),
				),
			)
			defer span.End()

			c.SetRequest(req.WithContext(IntoContext(ctx, traceID)))

			err := next(c)
			if err != nil {
				span.RecordError(err)
			}
			span.SetAttributes(attribute.Int("http.status_code", c.Response().Status))
			return err
		}
	}
}

func IntoContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
