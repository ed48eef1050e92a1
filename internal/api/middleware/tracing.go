package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ignite-health/funnel/internal/api"

// Tracing opens a server span per request and continues the caller's W3C
// trace context. The span starts out named after the raw path and is
// renamed to the matched route pattern once the mux has run, so it must
// wrap the mux without another request copy in between.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		attrs := []attribute.KeyValue{
			semconv.HTTPMethod(r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("user_agent.original", r.UserAgent()),
			semconv.NetHostName(r.Host),
		}
		if ip, ok := r.Context().Value(clientIPKey).(string); ok {
			attrs = append(attrs, attribute.String("client.address", ip))
		}
		if id := GetRequestID(r.Context()); id != "" {
			attrs = append(attrs, attribute.String("request_id", id))
		}

		ctx, span := otel.Tracer(tracerName).Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		lr := &loggedResponse{ResponseWriter: w}
		traced := r.WithContext(ctx)
		next.ServeHTTP(lr, traced)

		if traced.Pattern != "" {
			span.SetName(traced.Pattern)
			span.SetAttributes(semconv.HTTPRoute(traced.Pattern))
		}
		status := lr.status
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(semconv.HTTPStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}
