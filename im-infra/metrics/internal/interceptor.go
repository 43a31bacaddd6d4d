package internal

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	InstrumentationName = "taskflow/im-infra/metrics"
)

var (
	tracer = otel.Tracer(InstrumentationName)
	meter  = otel.Meter(InstrumentationName)

	// HTTP server metrics
	httpServerRequests metric.Int64Counter
	httpServerDuration metric.Float64Histogram
)

func init() {
	var err error
	httpServerRequests, err = meter.Int64Counter("http.server.requests.count", metric.WithDescription("Number of HTTP requests received."))
	handleErr(err)
	httpServerDuration, err = meter.Float64Histogram("http.server.duration", metric.WithDescription("Duration of HTTP requests in seconds."), metric.WithUnit("s"))
	handleErr(err)
}

// Tracer 返回组件共享的 tracer
func Tracer() trace.Tracer {
	return tracer
}

// HTTPMiddleware returns a new Gin middleware for tracing and metrics.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		spanCtx, span := tracer.Start(ctx, c.FullPath(), trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(c.Request.Method),
				semconv.HTTPURLKey.String(c.Request.URL.String()),
				semconv.NetHostNameKey.String(c.Request.Host),
			))
		defer span.End()

		c.Request = c.Request.WithContext(spanCtx)
		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)
		statusCode := c.Writer.Status()

		attrs := attribute.NewSet(
			semconv.HTTPMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(c.FullPath()),
			semconv.HTTPStatusCodeKey.Int(statusCode),
		)
		httpServerRequests.Add(spanCtx, 1, metric.WithAttributeSet(attrs))
		httpServerDuration.Record(spanCtx, duration.Seconds(), metric.WithAttributeSet(attrs))

		sCode, sMsg := httpStatusCodeToSpanStatus(statusCode)
		span.SetStatus(sCode, sMsg)
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last().Err)
		}
	}
}

func handleErr(err error) {
	if err != nil {
		otel.Handle(err)
	}
}

func httpStatusCodeToSpanStatus(code int) (otelcodes.Code, string) {
	if code >= 200 && code < 400 {
		return otelcodes.Ok, ""
	}
	return otelcodes.Error, ""
}

// HeaderCarrier 让 Kafka 消息头可以承载 trace 上下文
type HeaderCarrier map[string][]byte

func (c HeaderCarrier) Get(key string) string {
	return string(c[key])
}

func (c HeaderCarrier) Set(key, value string) {
	c[key] = []byte(value)
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
