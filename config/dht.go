package config

import (
	"errors"
	"time"
)

// DHTConfig DHT 配置
//
// 默认值：
//   - BucketSize: 20（K 值）
//   - Alpha: 3（查询并发度）
//   - NumClosestPeers: 6（查询种子数）
//   - MaxTimeout: 1m（操作默认超时）
//   - ReadMessageTimeout: 10s（单次 RPC 超时）
type DHTConfig struct {
	// BucketSize K 桶大小
	BucketSize int `json:"bucket_size"`

	// Alpha 查询并发度
	Alpha int `json:"alpha"`

	// NumClosestPeers 查询种子节点数
	NumClosestPeers int `json:"num_closest_peers"`

	// MaxTimeout 操作默认超时
	MaxTimeout Duration `json:"max_timeout"`

	// ReadMessageTimeout 单次 RPC 超时
	ReadMessageTimeout Duration `json:"read_message_timeout"`

	// MaxMessageSize 单帧最大字节数
	MaxMessageSize int `json:"max_message_size"`

	// MaxRecordAge 记录最长保留时间
	MaxRecordAge Duration `json:"max_record_age"`

	// Providers Provider 配置
	Providers ProvidersConfig `json:"providers"`

	// RandomWalk 随机游走配置
	RandomWalk RandomWalkConfig `json:"random_walk"`
}

// ProvidersConfig Provider 记录配置
type ProvidersConfig struct {
	// CleanupInterval 过期清理间隔
	CleanupInterval Duration `json:"cleanup_interval"`

	// ProvideValidity Provider 记录有效期
	ProvideValidity Duration `json:"provide_validity"`

	// CacheSize LRU 缓存容量
	CacheSize int `json:"cache_size"`
}

// RandomWalkConfig 随机游走配置
type RandomWalkConfig struct {
	// Enabled 是否启用
	Enabled bool `json:"enabled"`

	// Queries 每轮查询次数
	Queries int `json:"queries"`

	// Period 轮次间隔
	Period Duration `json:"period"`

	// Timeout 每次查询超时
	Timeout Duration `json:"timeout"`

	// Delay 首轮延迟
	Delay Duration `json:"delay"`
}

// DefaultDHTConfig 返回默认 DHT 配置
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{
		BucketSize:         20,
		Alpha:              3,
		NumClosestPeers:    6,
		MaxTimeout:         Duration(time.Minute),
		ReadMessageTimeout: Duration(10 * time.Second),
		MaxMessageSize:     4 << 20,
		MaxRecordAge:       Duration(36 * time.Hour),
		Providers: ProvidersConfig{
			CleanupInterval: Duration(time.Hour),
			ProvideValidity: Duration(24 * time.Hour),
			CacheSize:       256,
		},
		RandomWalk: RandomWalkConfig{
			Enabled: true,
			Queries: 1,
			Period:  Duration(5 * time.Minute),
			Timeout: Duration(10 * time.Second),
			Delay:   Duration(10 * time.Second),
		},
	}
}

// Validate 验证 DHT 配置
func (c DHTConfig) Validate() error {
	if c.BucketSize <= 0 {
		return errors.New("dht: bucket size must be positive")
	}
	if c.Alpha <= 0 {
		return errors.New("dht: alpha must be positive")
	}
	if c.NumClosestPeers <= 0 {
		return errors.New("dht: num closest peers must be positive")
	}
	if c.MaxTimeout <= 0 || c.ReadMessageTimeout <= 0 {
		return errors.New("dht: timeouts must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("dht: max message size must be positive")
	}
	if c.Providers.CleanupInterval <= 0 || c.Providers.ProvideValidity <= 0 {
		return errors.New("dht: provider intervals must be positive")
	}
	if c.Providers.CacheSize <= 0 {
		return errors.New("dht: provider cache size must be positive")
	}
	if c.RandomWalk.Enabled {
		if c.RandomWalk.Queries <= 0 {
			return errors.New("dht: random walk queries must be positive")
		}
		if c.RandomWalk.Period <= 0 || c.RandomWalk.Timeout <= 0 {
			return errors.New("dht: random walk period and timeout must be positive")
		}
	}
	return nil
}
