// Package httpmiddleware contains net/http middlewares shared by the API
// server: logging, tracing, panic recovery, request ids and rate limiting.
package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder returns the route pattern serving r, or "" if none matches.
type RouteFinder func(r *http.Request) string

// MakeRouteFinder resolves routes against mux without serving the request.
func MakeRouteFinder(mux *http.ServeMux) RouteFinder {
	return func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}
}

func routeOf(find RouteFinder, r *http.Request) string {
	if route := find(r); route != "" {
		return route
	}
	return "unknown"
}

// InjectLogger stores lg as the base request logger for zctx.From.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := zctx.Base(r.Context(), lg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Telemetry provides the tracer and meter used by Instrument.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Instrument traces and measures requests with otelhttp, naming spans after
// the matched route.
func Instrument(service string, find RouteFinder, t Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service,
			otelhttp.WithTracerProvider(t.TracerProvider()),
			otelhttp.WithMeterProvider(t.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return routeOf(find, r)
			}),
		)
	}
}

// Labeler adds the route to the metric attributes recorded by Instrument.
// It must run inside Instrument.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if labeler, ok := otelhttp.LabelerFromContext(r.Context()); ok {
				labeler.Add(attribute.String("http.route", routeOf(find, r)))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LogRequests logs one line per request with status and duration.
func LogRequests(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			lg := zctx.From(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", routeOf(find, r)),
				zap.Int("status", m.Code),
				zap.Duration("duration", m.Duration),
				zap.Int64("bytes", m.Written),
			}
			switch {
			case m.Code >= http.StatusInternalServerError:
				lg.Warn("Request failed", fields...)
			case m.Duration > time.Second:
				lg.Info("Slow request", fields...)
			default:
				lg.Debug("Request", fields...)
			}
		})
	}
}

// writeError writes the API error body {"code","message"}.
func writeError(w http.ResponseWriter, code int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
