package restclient

import (
	"context"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-dashboard/metrics"
)

const (
	tracerName      = "prism-dashboard/restclient"
	requestLogEvent = "api.request"
)

// requestMetrics follows one REST call: a client span, a histogram sample and
// a single structured log line when it finishes.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	op     string
	method string
	route  string

	encodeDuration time.Duration
	decodeDuration time.Duration
	items          int
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, op, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "restclient."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		op:     op,
		method: method,
		route:  route,
		items:  -1,
	}, ctx
}

func (m *requestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *requestMetrics) ObserveDecode(d time.Duration) {
	if d > 0 {
		m.decodeDuration = d
	}
}

// SetItems records the length of a returned list.
func (m *requestMetrics) SetItems(n int) {
	if n < 0 {
		n = 0
	}
	m.items = n
}

// Finish ends the span and emits the log line. status is 0 when no response
// arrived.
func (m *requestMetrics) Finish(status int, err error) {
	total := time.Since(m.start)

	statusLabel := "error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
		m.span.SetAttributes(attribute.Int("http.status_code", status))
	}
	metrics.APIRequestDuration.WithLabelValues(m.method, statusLabel).Observe(total.Seconds())

	m.span.SetAttributes(attribute.Float64("prism.api.total_ms", durationToMillis(total)))
	if m.items >= 0 {
		m.span.SetAttributes(attribute.Int("prism.api.items", m.items))
	}
	if err != nil {
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"op":       m.op,
		"method":   m.method,
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(total),
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.decodeDuration > 0 {
		fields["decode_ms"] = durationToMillis(m.decodeDuration)
	}
	if m.items >= 0 {
		fields["items"] = m.items
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Log(levelForStatus(status, err), requestLogEvent)
}

func levelForStatus(status int, err error) log.Level {
	switch {
	case status >= 500:
		return log.ErrorLevel
	case status >= 400:
		return log.WarnLevel
	case status == 0 && err != nil:
		return log.ErrorLevel
	default:
		return log.DebugLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
