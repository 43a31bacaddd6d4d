package cache

import (
	"errors"
	"time"
)

// Config 是 cache 组件的配置
type Config struct {
	Addr            string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password        string        `json:"password" yaml:"password" mapstructure:"password"`
	DB              int           `json:"db" yaml:"db" mapstructure:"db"`
	PoolSize        int           `json:"poolSize" yaml:"poolSize" mapstructure:"poolSize"`
	MinIdleConns    int           `json:"minIdleConns" yaml:"minIdleConns" mapstructure:"minIdleConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns" mapstructure:"maxIdleConns"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime" yaml:"connMaxIdleTime" mapstructure:"connMaxIdleTime"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime" mapstructure:"connMaxLifetime"`
	DialTimeout     time.Duration `json:"dialTimeout" yaml:"dialTimeout" mapstructure:"dialTimeout"`
	ReadTimeout     time.Duration `json:"readTimeout" yaml:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout" yaml:"writeTimeout" mapstructure:"writeTimeout"`
	PoolTimeout     time.Duration `json:"poolTimeout" yaml:"poolTimeout" mapstructure:"poolTimeout"`
	MaxRetries      int           `json:"maxRetries" yaml:"maxRetries" mapstructure:"maxRetries"`
	MinRetryBackoff time.Duration `json:"minRetryBackoff" yaml:"minRetryBackoff" mapstructure:"minRetryBackoff"`
	MaxRetryBackoff time.Duration `json:"maxRetryBackoff" yaml:"maxRetryBackoff" mapstructure:"maxRetryBackoff"`

	// KeyPrefix 所有键的统一前缀，为空时不加前缀
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix" mapstructure:"keyPrefix"`
}

// DefaultConfig 返回适用于开发环境的默认配置
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:6379",
		PoolSize:        10,
		MinIdleConns:    2,
		MaxIdleConns:    10,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

// Validate 检查配置是否合法
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("cache: addr is required")
	}
	if c.DB < 0 {
		return errors.New("cache: db must be >= 0")
	}
	if c.PoolSize < 0 {
		return errors.New("cache: poolSize must be >= 0")
	}
	return nil
}
