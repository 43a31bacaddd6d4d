package internal

// Config holds the configuration for the metrics and tracing system.
// This is an internal config struct.
type Config struct {
	ServiceName          string
	ExporterType         string
	ExporterEndpoint     string
	PrometheusListenAddr string
	SamplerType          string
	SamplerRatio         float64
}
