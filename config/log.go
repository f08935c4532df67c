package config

import (
	"fmt"
)

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别: debug/info/warn/error
	Level string `json:"level"`

	// Format 输出格式: text/json
	Format string `json:"format"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate 验证日志配置
func (c LogConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: invalid level %q", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log: invalid format %q", c.Format)
	}
	return nil
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否暴露 Prometheus 指标
	Enabled bool `json:"enabled"`

	// Addr HTTP 监听地址
	Addr string `json:"addr"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Addr:    "127.0.0.1:9464",
	}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("metrics: addr cannot be empty when enabled")
	}
	return nil
}
