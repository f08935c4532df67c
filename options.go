package kaddht

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/internal/discovery/dht"
	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
)

// Validator 命名空间记录校验器
type Validator = dht.Validator

// Selector 命名空间记录选择器
type Selector = dht.Selector

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// config 统一配置，选项在其上覆盖
	config *config.Config

	// privateKey 直接注入的私钥，优先于密钥文件
	privateKey crypto.PrivateKey

	// registerer 外部指标注册器，为空时节点自建 Registry
	registerer prometheus.Registerer

	// dhtOptions 额外的 DHT 选项
	dhtOptions []dht.ConfigOption

	// userFxOptions 用户自定义 Fx 选项
	userFxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{
		config: config.NewConfig(),
	}
}

// ============================================================================
//                              配置选项
// ============================================================================

// WithConfig 使用完整的统一配置
//
// 之后的选项仍会覆盖其中的字段，因此应放在选项列表首位。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("配置不能为空")
		}
		o.config = cfg
		return nil
	}
}

// WithListenAddrs 设置监听地址（multiaddr）
func WithListenAddrs(addrs ...string) Option {
	return func(o *options) error {
		if len(addrs) == 0 {
			return errors.New("监听地址不能为空")
		}
		o.config.Network.Listen = addrs
		return nil
	}
}

// WithBootstrapPeers 设置引导节点，地址必须带 /p2p/<peer-id> 后缀
//
// 传入空列表表示不使用引导节点（创世节点）。
func WithBootstrapPeers(addrs ...string) Option {
	return func(o *options) error {
		o.config.Network.Bootstrap = addrs
		return nil
	}
}

// WithKeyFile 从密钥文件加载身份，文件不存在时生成
func WithKeyFile(path string) Option {
	return func(o *options) error {
		o.config.Identity.KeyFile = path
		return nil
	}
}

// WithIdentity 直接使用给定私钥
func WithIdentity(priv crypto.PrivateKey) Option {
	return func(o *options) error {
		if priv == nil {
			return errors.New("私钥不能为空")
		}
		o.privateKey = priv
		return nil
	}
}

// WithDataDir 使用磁盘存储
func WithDataDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return errors.New("数据目录不能为空")
		}
		o.config.Storage.DataDir = dir
		o.config.Storage.InMemory = false
		return nil
	}
}

// WithInMemoryStorage 使用内存存储
func WithInMemoryStorage() Option {
	return func(o *options) error {
		o.config.Storage.InMemory = true
		return nil
	}
}

// WithBucketSize 设置 K 桶大小
func WithBucketSize(k int) Option {
	return func(o *options) error {
		if k <= 0 {
			return fmt.Errorf("无效的桶大小: %d", k)
		}
		o.config.DHT.BucketSize = k
		return nil
	}
}

// WithRandomWalk 启用或禁用随机游走
func WithRandomWalk(enabled bool) Option {
	return func(o *options) error {
		o.config.DHT.RandomWalk.Enabled = enabled
		return nil
	}
}

// WithValidator 注册命名空间校验器
func WithValidator(ns string, v Validator) Option {
	return func(o *options) error {
		if ns == "" {
			return errors.New("校验器命名空间不能为空")
		}
		o.dhtOptions = append(o.dhtOptions, dht.WithValidator(ns, v))
		return nil
	}
}

// WithSelector 注册命名空间选择器
func WithSelector(ns string, s Selector) Option {
	return func(o *options) error {
		if ns == "" || s == nil {
			return errors.New("选择器命名空间与函数不能为空")
		}
		o.dhtOptions = append(o.dhtOptions, dht.WithSelector(ns, s))
		return nil
	}
}

// WithMetrics 在 addr 上暴露 Prometheus 指标
func WithMetrics(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			return errors.New("指标地址不能为空")
		}
		o.config.Metrics.Enabled = true
		o.config.Metrics.Addr = addr
		return nil
	}
}

// WithRegisterer 使用外部指标注册器
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
