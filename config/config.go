// Package config 提供 kaddht 节点的统一配置
//
// 配置按模块组织，每个子配置在独立文件中定义：
//   - Identity: 节点密钥
//   - Network: 监听地址与引导节点
//   - Storage: 数据存储
//   - DHT: 路由表、查询、Provider、随机游走
//   - Log: 日志输出
//   - Metrics: Prometheus 指标
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Network.Listen = []string{"/ip4/0.0.0.0/tcp/4001"}
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config 是 kaddht 节点的完整配置
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Network 网络配置
	Network NetworkConfig `json:"network"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// DHT DHT 配置
	DHT DHTConfig `json:"dht"`

	// Log 日志配置
	Log LogConfig `json:"log"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity: DefaultIdentityConfig(),
		Network:  DefaultNetworkConfig(),
		Storage:  DefaultStorageConfig(),
		DHT:      DefaultDHTConfig(),
		Log:      DefaultLogConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.DHT.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}

// FromJSON 从 JSON 数据创建配置，未出现的字段保持默认值
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// FromFile 从 JSON 文件加载配置
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return FromJSON(data)
}

// ToJSON 将配置序列化为带缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
