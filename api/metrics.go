package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "taskboard-api/api"
	requestSpanName    = "taskboard.http.request"
	requestEventName   = "taskboard.request.completed"
	requestEventDomain = "taskboard.api"
	observabilityEvent = "observability.event"
	metricsKey         = "requestMetrics"
)

// requestMetrics collects per-request timings and outcome. Log emits them
// once as a structured logrus entry and as an OpenTelemetry span.
type requestMetrics struct {
	logger          *log.Logger
	span            trace.Span
	start           time.Time
	method          string
	route           string
	user            string
	authDuration    time.Duration
	serviceDuration time.Duration
	itemsReturned   int
	errorStage      string
	cause           error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger:        logger,
		span:          span,
		start:         time.Now(),
		method:        method,
		route:         route,
		itemsReturned: -1,
	}, spanCtx
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsKey).(*requestMetrics)
	return m
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) ObserveService(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.serviceDuration = d
}

func (m *requestMetrics) SetItemsReturned(n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.itemsReturned = n
}

func (m *requestMetrics) SetUser(id string) {
	if m == nil {
		return
	}
	m.user = id
}

// Fail records the stage a request failed in and its cause.
func (m *requestMetrics) Fail(stage string, err error) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
	if err != nil {
		m.cause = err
	}
}

func (m *requestMetrics) attributes(status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64("taskboard.request.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskboard.request.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.serviceDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskboard.request.service_ms", durationToMillis(m.serviceDuration)))
	}
	if m.itemsReturned >= 0 {
		attrs = append(attrs, attribute.Int("taskboard.request.items_returned", m.itemsReturned))
	}
	if m.user != "" {
		attrs = append(attrs, attribute.String("enduser.id", m.user))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskboard.request.error_stage", m.errorStage))
	}
	return attrs
}

// Log finishes the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, err)
	attrs := m.attributes(status)
	cause := err
	if cause == nil {
		cause = m.cause
	}

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	if cause != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", cause.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil || status >= http.StatusInternalServerError:
			desc := http.StatusText(status)
			if cause != nil {
				m.span.RecordError(cause)
				desc = cause.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attributesToFields(attrs),
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Log(levelForSeverity(severityNumber), observabilityEvent)
}

// severityForStatus maps an HTTP outcome to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// observeRequests wraps a handler chain with requestMetrics. The route is
// the registered path pattern, not the raw URL.
func observeRequests(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			metrics, spanCtx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(spanCtx))
			c.Set(metricsKey, metrics)

			err := next(c)
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
				if status < http.StatusInternalServerError {
					metrics.Fail("http", nil)
					metrics.Log(status, nil)
					return err
				}
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			metrics.Log(status, err)
			return err
		}
	}
}
