package dht

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              常量定义
// ============================================================================

const (
	// ProtocolDHT DHT 协议标识
	ProtocolDHT types.ProtocolID = "/ipfs/kad/1.0.0"

	// K 查询返回的最近节点数
	K = 20

	// Alpha 查询并发度
	Alpha = 3

	// DefaultNumClosestPeers 默认种子节点数
	DefaultNumClosestPeers = 6

	// DefaultMaxTimeout 操作默认超时
	DefaultMaxTimeout = time.Minute

	// ReadMessageTimeout 单次 RPC 读写超时
	ReadMessageTimeout = 10 * time.Second

	// DefaultMaxMessageSize 单帧最大字节数
	DefaultMaxMessageSize = 4 << 20

	// DefaultMaxRecordAge 记录最长保留时间
	DefaultMaxRecordAge = 36 * time.Hour

	// GetManyValues Get 收集的候选值数量
	GetManyValues = 16

	// DefaultInboundRate 每个节点入站请求速率（每秒）
	DefaultInboundRate = 100

	// DefaultInboundBurst 每个节点入站请求突发量
	DefaultInboundBurst = 200
)

// ProvidersConfig Provider 注册表配置
type ProvidersConfig struct {
	// CleanupInterval 过期清理间隔
	CleanupInterval time.Duration

	// ProvideValidity Provider 记录有效期
	ProvideValidity time.Duration

	// LRUCacheSize 缓存的内容键数量
	LRUCacheSize int
}

// DefaultProvidersConfig 返回默认 Provider 配置
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		CleanupInterval: time.Hour,
		ProvideValidity: 24 * time.Hour,
		LRUCacheSize:    256,
	}
}

// RandomWalkConfig 随机游走配置
type RandomWalkConfig struct {
	// Enabled 是否随 DHT 启动
	Enabled bool

	// Queries 每轮查询次数
	Queries int

	// Period 轮次间隔
	Period time.Duration

	// Timeout 单次查询超时
	Timeout time.Duration

	// Delay 首轮延迟
	Delay time.Duration
}

// DefaultRandomWalkConfig 返回默认随机游走配置
func DefaultRandomWalkConfig() RandomWalkConfig {
	return RandomWalkConfig{
		Enabled: true,
		Queries: 1,
		Period:  5 * time.Minute,
		Timeout: 10 * time.Second,
		Delay:   10 * time.Second,
	}
}

// Config DHT 配置
type Config struct {
	// BucketSize K 桶大小
	BucketSize int

	// Alpha 查询并发度
	Alpha int

	// NumClosestPeers 查询种子节点数（ncp）
	NumClosestPeers int

	// MaxTimeout ctx 未设置截止时间时的操作超时
	MaxTimeout time.Duration

	// ReadMessageTimeout 单次 RPC 超时
	ReadMessageTimeout time.Duration

	// MaxMessageSize 单帧最大字节数
	MaxMessageSize int

	// MaxRecordAge 本地记录最长保留时间
	MaxRecordAge time.Duration

	// ProtocolID 线协议标识
	ProtocolID types.ProtocolID

	// InboundRate 每个节点入站请求速率（每秒）
	InboundRate float64

	// InboundBurst 每个节点入站请求突发量
	InboundBurst int

	// Providers Provider 配置
	Providers ProvidersConfig

	// RandomWalk 随机游走配置
	RandomWalk RandomWalkConfig

	// Validators 按命名空间的记录校验器
	Validators Validators

	// Selectors 按命名空间的记录选择器
	Selectors Selectors

	// PrivateKey 签名记录使用的私钥，为空时不能写入签名命名空间
	PrivateKey crypto.PrivateKey

	// Clock 时钟（测试注入）
	Clock clock.Clock

	// Registerer 指标注册器，为空时不注册
	Registerer prometheus.Registerer
}

// ConfigOption 配置选项
type ConfigOption func(*Config)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BucketSize:         K,
		Alpha:              Alpha,
		NumClosestPeers:    DefaultNumClosestPeers,
		MaxTimeout:         DefaultMaxTimeout,
		ReadMessageTimeout: ReadMessageTimeout,
		MaxMessageSize:     DefaultMaxMessageSize,
		MaxRecordAge:       DefaultMaxRecordAge,
		ProtocolID:         ProtocolDHT,
		InboundRate:        DefaultInboundRate,
		InboundBurst:       DefaultInboundBurst,
		Providers:          DefaultProvidersConfig(),
		RandomWalk:         DefaultRandomWalkConfig(),
		Validators:         DefaultValidators(),
		Selectors:          DefaultSelectors(),
		Clock:              clock.New(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch {
	case c.BucketSize <= 0:
		return fmt.Errorf("%w: bucket size must be positive", ErrInvalidConfig)
	case c.Alpha <= 0:
		return fmt.Errorf("%w: alpha must be positive", ErrInvalidConfig)
	case c.NumClosestPeers <= 0:
		return fmt.Errorf("%w: closest peer count must be positive", ErrInvalidConfig)
	case c.MaxTimeout <= 0 || c.ReadMessageTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	case c.MaxRecordAge <= 0:
		return fmt.Errorf("%w: max record age must be positive", ErrInvalidConfig)
	case c.ProtocolID == "":
		return fmt.Errorf("%w: empty protocol id", ErrInvalidConfig)
	case c.Providers.CleanupInterval <= 0 || c.Providers.ProvideValidity <= 0:
		return fmt.Errorf("%w: provider intervals must be positive", ErrInvalidConfig)
	case c.Providers.LRUCacheSize <= 0:
		return fmt.Errorf("%w: provider cache size must be positive", ErrInvalidConfig)
	case c.InboundRate <= 0 || c.InboundBurst <= 0:
		return fmt.Errorf("%w: inbound rate must be positive", ErrInvalidConfig)
	case c.Clock == nil:
		return fmt.Errorf("%w: nil clock", ErrInvalidConfig)
	}
	if c.RandomWalk.Enabled {
		if c.RandomWalk.Queries <= 0 || c.RandomWalk.Period <= 0 || c.RandomWalk.Timeout <= 0 {
			return fmt.Errorf("%w: invalid random walk settings", ErrInvalidConfig)
		}
	}
	return nil
}

// ============================================================================
//                              配置选项
// ============================================================================

// WithBucketSize 设置 K 桶大小
func WithBucketSize(k int) ConfigOption {
	return func(c *Config) {
		c.BucketSize = k
	}
}

// WithAlpha 设置查询并发度
func WithAlpha(alpha int) ConfigOption {
	return func(c *Config) {
		c.Alpha = alpha
	}
}

// WithNumClosestPeers 设置查询种子节点数
func WithNumClosestPeers(n int) ConfigOption {
	return func(c *Config) {
		c.NumClosestPeers = n
	}
}

// WithMaxTimeout 设置操作默认超时
func WithMaxTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxTimeout = d
	}
}

// WithReadMessageTimeout 设置单次 RPC 超时
func WithReadMessageTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.ReadMessageTimeout = d
	}
}

// WithMaxMessageSize 设置单帧最大字节数
func WithMaxMessageSize(n int) ConfigOption {
	return func(c *Config) {
		c.MaxMessageSize = n
	}
}

// WithProviders 设置 Provider 配置
func WithProviders(pc ProvidersConfig) ConfigOption {
	return func(c *Config) {
		c.Providers = pc
	}
}

// WithRandomWalk 设置随机游走配置
func WithRandomWalk(rw RandomWalkConfig) ConfigOption {
	return func(c *Config) {
		c.RandomWalk = rw
	}
}

// WithValidator 为命名空间注册校验器
func WithValidator(ns string, v Validator) ConfigOption {
	return func(c *Config) {
		if c.Validators == nil {
			c.Validators = Validators{}
		}
		c.Validators[ns] = v
	}
}

// WithSelector 为命名空间注册选择器
func WithSelector(ns string, s Selector) ConfigOption {
	return func(c *Config) {
		if c.Selectors == nil {
			c.Selectors = Selectors{}
		}
		c.Selectors[ns] = s
	}
}

// WithPrivateKey 设置签名私钥
func WithPrivateKey(priv crypto.PrivateKey) ConfigOption {
	return func(c *Config) {
		c.PrivateKey = priv
	}
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) ConfigOption {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithRegisterer 设置指标注册器
func WithRegisterer(reg prometheus.Registerer) ConfigOption {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// ConfigFromUnified 从统一配置创建 DHT 配置选项
func ConfigFromUnified(cfg *config.Config) []ConfigOption {
	if cfg == nil {
		return nil
	}
	d := cfg.DHT
	return []ConfigOption{
		WithBucketSize(d.BucketSize),
		WithAlpha(d.Alpha),
		WithNumClosestPeers(d.NumClosestPeers),
		WithMaxTimeout(d.MaxTimeout.Duration()),
		WithReadMessageTimeout(d.ReadMessageTimeout.Duration()),
		WithMaxMessageSize(d.MaxMessageSize),
		func(c *Config) { c.MaxRecordAge = d.MaxRecordAge.Duration() },
		WithProviders(ProvidersConfig{
			CleanupInterval: d.Providers.CleanupInterval.Duration(),
			ProvideValidity: d.Providers.ProvideValidity.Duration(),
			LRUCacheSize:    d.Providers.CacheSize,
		}),
		WithRandomWalk(RandomWalkConfig{
			Enabled: d.RandomWalk.Enabled,
			Queries: d.RandomWalk.Queries,
			Period:  d.RandomWalk.Period.Duration(),
			Timeout: d.RandomWalk.Timeout.Duration(),
			Delay:   d.RandomWalk.Delay.Duration(),
		}),
	}
}
