package api

import (
	"context"
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
	tracerName         = "tasktracker/api"
	requestSpanName    = "tasktracker.api.request"
	requestEventName   = "http.request"
	requestEventDomain = "tasktracker.api"
	observabilityEvent = "observability.event"
	attrPrefix         = "tasktracker.request."
	metricsContextKey  = "tasktracker.metrics"
)

// requestMetrics collects timings for one API request and emits them as a
// span plus a structured log entry when the request ends.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	route        string
	method       string
	actorID      string
	authDuration time.Duration
	itemsSet     bool
	items        int
	errorStage   string
	err          error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", method),
		))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		method: method,
	}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) SetActor(id string) {
	if m == nil {
		return
	}
	m.actorID = id
}

// SetItemsReturned records the size of a collection response.
func (m *requestMetrics) SetItemsReturned(n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.itemsSet = true
	m.items = n
}

// Fail marks the stage at which the request failed.
func (m *requestMetrics) Fail(stage string, err error) {
	if m == nil {
		return
	}
	if stage != "" {
		m.errorStage = stage
	}
	if err != nil {
		m.err = err
	}
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		"http.route":            m.route,
		"http.method":           m.method,
		"http.status_code":      status,
		attrPrefix + "total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.actorID != "" {
		attrs["enduser.id"] = m.actorID
	}
	if m.authDuration > 0 {
		attrs[attrPrefix+"auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.itemsSet {
		attrs[attrPrefix+"items_returned"] = m.items
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	kvs := toAttributes(attrs)
	m.span.SetAttributes(kvs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(append(kvs,
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	)...))
	if severityNumber >= severityError {
		msg := http.StatusText(status)
		if err != nil {
			m.span.RecordError(err)
			msg = err.Error()
		}
		m.span.SetStatus(codes.Error, msg)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
	}
	if sc := m.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch severityNumber {
	case severityError:
		entry.Error(observabilityEvent)
	case severityWarn:
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// OpenTelemetry log severity numbers.
const (
	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError || (status == 0 && err != nil):
		return "ERROR", severityError
	case status >= http.StatusBadRequest:
		return "WARN", severityWarn
	}
	return "INFO", severityInfo
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// RequestMetrics wraps each request in a span and emits one observability
// event when it completes.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, c.Path())
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsContextKey, m)

			err := next(c)
			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			m.Log(status, err)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}
