package metrics

import "github.com/ceyewan/taskflow/im-infra/metrics/internal"

// Config 定义了 metrics 和 tracing 系统的公共配置结构。
//
// 所有配置项都有合理的默认值，可以通过 DefaultConfig() 获取。
type Config struct {
	// ServiceName 服务的唯一标识名称，必填。
	// 用于在分布式追踪中标识服务，以及在监控系统中区分不同服务的指标。
	ServiceName string `json:"serviceName" yaml:"serviceName" mapstructure:"serviceName"`

	// ExporterType 指定 trace 数据的导出器类型。
	//
	// 支持的类型：
	//   - "zipkin": 导出到 Zipkin 分布式追踪系统
	//   - "stdout": 输出到标准输出（主要用于开发和调试）
	//   - "none":   只在进程内创建 span，不导出
	//
	// 默认值："none"
	ExporterType string `json:"exporterType" yaml:"exporterType" mapstructure:"exporterType"`

	// ExporterEndpoint 指定 trace exporter 的目标地址，如 "http://zipkin:9411/api/v2/spans"。
	ExporterEndpoint string `json:"exporterEndpoint" yaml:"exporterEndpoint" mapstructure:"exporterEndpoint"`

	// PrometheusListenAddr 独立的 Prometheus 端点监听地址。
	// 为空时不启动独立服务器，由调用方通过 Provider.Handler() 挂载 /metrics。
	PrometheusListenAddr string `json:"prometheusListenAddr" yaml:"prometheusListenAddr" mapstructure:"prometheusListenAddr"`

	// SamplerType 采样策略："always_on"、"always_off"、"trace_id_ratio"
	SamplerType string `json:"samplerType" yaml:"samplerType" mapstructure:"samplerType"`

	// SamplerRatio 采样比例，仅当 SamplerType 为 "trace_id_ratio" 时有效，取值 0.0 到 1.0
	SamplerRatio float64 `json:"samplerRatio" yaml:"samplerRatio" mapstructure:"samplerRatio"`
}

// DefaultConfig 返回一个包含合理默认值的新 Config 实例。
func DefaultConfig() *Config {
	return &Config{
		ServiceName:      "unknown-service",
		ExporterType:     "none",
		ExporterEndpoint: "http://localhost:9411/api/v2/spans",
		SamplerType:      "always_on",
		SamplerRatio:     1.0,
	}
}

func (c *Config) toInternal() *internal.Config {
	return &internal.Config{
		ServiceName:          c.ServiceName,
		ExporterType:         c.ExporterType,
		ExporterEndpoint:     c.ExporterEndpoint,
		PrometheusListenAddr: c.PrometheusListenAddr,
		SamplerType:          c.SamplerType,
		SamplerRatio:         c.SamplerRatio,
	}
}
