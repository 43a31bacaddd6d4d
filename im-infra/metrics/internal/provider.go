package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var providerLogger = clog.Module("metrics")

// Provider 是 metrics 和 tracing provider 的内部实现。
type Provider struct {
	registry *promclient.Registry
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	server   *http.Server
}

// NewProvider 依次初始化 Resource、TracerProvider、MeterProvider 与全局 propagator。
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		return nil, errors.New("service name must be configured")
	}

	providerLogger.Info("开始初始化 metrics provider",
		clog.String("service_name", cfg.ServiceName),
		clog.String("exporter_type", cfg.ExporterType),
		clog.String("sampler_type", cfg.SamplerType),
	)

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, err := newTracerProvider(cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mp, err := newMeterProvider(res, registry)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}
	otel.SetMeterProvider(mp)

	p := &Provider{registry: registry, tp: tp, mp: mp}
	if cfg.PrometheusListenAddr != "" {
		p.server = startPrometheusServer(cfg.PrometheusListenAddr, p.Handler())
	}

	providerLogger.Info("metrics provider 初始化完成")
	return p, nil
}

// Handler 返回 Prometheus 格式的指标处理器
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Shutdown 优雅地停止所有 metrics 相关服务。
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown prometheus server: %w", err))
		}
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
	}
	if len(errs) > 0 {
		providerLogger.Error("metrics provider 关闭时出错", clog.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}
	providerLogger.Info("metrics provider 已关闭")
	return nil
}

// newTracerProvider 根据 exporter 类型与采样策略创建 TracerProvider。
func newTracerProvider(cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
	}

	switch cfg.ExporterType {
	case "zipkin":
		exporter, err := zipkin.New(cfg.ExporterEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create zipkin exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case "", "none":
	default:
		return nil, fmt.Errorf("unsupported tracer exporter type: %s", cfg.ExporterType)
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

func newSampler(cfg *Config) sdktrace.Sampler {
	switch cfg.SamplerType {
	case "always_off":
		return sdktrace.NeverSample()
	case "trace_id_ratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerRatio))
	default:
		return sdktrace.AlwaysSample()
	}
}

// newMeterProvider 创建带 Prometheus exporter 的 MeterProvider。
// exporter 注册到 provider 独占的 registry，由 Handler() 对外暴露。
func newMeterProvider(res *resource.Resource, registry *promclient.Registry) (*sdkmetric.MeterProvider, error) {
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	), nil
}

func startPrometheusServer(addr string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		providerLogger.Info("启动 prometheus metrics 服务器", clog.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			providerLogger.Error("prometheus server failed", clog.Err(err))
			otel.Handle(fmt.Errorf("prometheus server failed: %w", err))
		}
	}()
	return server
}
