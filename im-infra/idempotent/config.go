package idempotent

import (
	"fmt"
	"time"
)

// Config 是 idempotent 的主配置结构体。
type Config struct {
	// KeyPrefix 键前缀，用于业务隔离，最终键为 "{KeyPrefix}:{key}"
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix" mapstructure:"keyPrefix"`
	// DefaultTTL Set 传入 0 时使用的过期时间
	DefaultTTL time.Duration `json:"defaultTTL" yaml:"defaultTTL" mapstructure:"defaultTTL"`
	// MarkerValue 写入的标记值
	MarkerValue string `json:"markerValue" yaml:"markerValue" mapstructure:"markerValue"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   "idempotent",
		DefaultTTL:  time.Hour,
		MarkerValue: "1",
	}
}

// Validate 验证配置是否有效
func (c Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("keyPrefix cannot be empty")
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("defaultTTL must be positive")
	}
	return nil
}
