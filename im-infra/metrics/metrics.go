package metrics

import (
	"context"
	"net/http"

	"github.com/ceyewan/taskflow/im-infra/metrics/internal"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Provider is the interface for the metrics and tracing system.
type Provider interface {
	HTTPMiddleware() gin.HandlerFunc
	// Handler 返回 Prometheus 格式的 /metrics 处理器
	Handler() http.Handler
	Shutdown(ctx context.Context) error
}

type provider struct {
	internalProvider *internal.Provider
}

// New creates a new metrics and tracing provider based on the given config.
func New(cfg *Config) (Provider, error) {
	p, err := internal.NewProvider(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return &provider{internalProvider: p}, nil
}

func (p *provider) HTTPMiddleware() gin.HandlerFunc {
	return internal.HTTPMiddleware()
}

func (p *provider) Handler() http.Handler {
	return p.internalProvider.Handler()
}

func (p *provider) Shutdown(ctx context.Context) error {
	return p.internalProvider.Shutdown(ctx)
}

// --- Helper functions for custom metrics ---

// Counter is a metric that accumulates values over time.
// A nil *Counter is valid and records nothing.
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a new counter with a given name and description.
func NewCounter(name, description string) (*Counter, error) {
	counter, err := otel.Meter(internal.InstrumentationName).Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, err
	}
	return &Counter{counter: counter}, nil
}

// Inc increments the counter by 1.
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Add adds a value to the counter.
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Histogram is a metric that samples observations.
// A nil *Histogram is valid and records nothing.
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a new histogram with a given name, description, and unit.
func NewHistogram(name, description, unit string) (*Histogram, error) {
	histogram, err := otel.Meter(internal.InstrumentationName).Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: histogram}, nil
}

// Record records a new value for the histogram.
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// Gauge is an asynchronous int64 gauge read at collection time.
// A nil *Gauge is valid.
type Gauge struct {
	registration metric.Registration
}

// NewGauge creates a gauge whose value comes from observe on every collection.
// observe 返回错误时本轮不上报
func NewGauge(name, description string, observe func(ctx context.Context) (int64, error)) (*Gauge, error) {
	meter := otel.Meter(internal.InstrumentationName)
	gauge, err := meter.Int64ObservableGauge(name, metric.WithDescription(description))
	if err != nil {
		return nil, err
	}
	reg, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		v, err := observe(ctx)
		if err != nil {
			return nil
		}
		o.ObserveInt64(gauge, v)
		return nil
	}, gauge)
	if err != nil {
		return nil, err
	}
	return &Gauge{registration: reg}, nil
}

// Unregister 停止观测，数据源关闭前调用
func (g *Gauge) Unregister() error {
	if g == nil {
		return nil
	}
	return g.registration.Unregister()
}

// --- Message tracing helpers ---

// StartSpan 以共享 tracer 开启一个 span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return internal.Tracer().Start(ctx, name, opts...)
}

// InjectHeaders 将当前 trace 上下文写入消息头
func InjectHeaders(ctx context.Context, headers map[string][]byte) {
	if headers == nil {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, internal.HeaderCarrier(headers))
}

// ExtractHeaders 从消息头恢复 trace 上下文
func ExtractHeaders(ctx context.Context, headers map[string][]byte) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, internal.HeaderCarrier(headers))
}
