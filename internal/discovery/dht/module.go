package dht

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
)

// Module DHT Fx 模块
var Module = fx.Module("discovery_dht",
	fx.Provide(NewFromParams),
	fx.Invoke(registerDHTLifecycle),
)

// Params DHT 依赖参数
type Params struct {
	fx.In

	Host       interfaces.Host
	Datastore  interfaces.Datastore  `optional:"true"`
	UnifiedCfg *config.Config        `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`

	// Identity 提供签名记录使用的私钥
	Identity interfaces.Identity `optional:"true"`

	// Options 额外配置，在统一配置之后应用
	Options []ConfigOption `group:"dht_options"`
}

// Result DHT 导出结果
type Result struct {
	fx.Out

	DHT *KadDHT
}

// NewFromParams 从 Fx 参数创建 DHT
func NewFromParams(p Params) (Result, error) {
	opts := ConfigFromUnified(p.UnifiedCfg)
	if p.Identity != nil {
		opts = append(opts, WithPrivateKey(p.Identity.PrivateKey()))
	}
	if p.Registerer != nil {
		opts = append(opts, WithRegisterer(p.Registerer))
	}
	opts = append(opts, p.Options...)

	d, err := New(p.Host, p.Datastore, opts...)
	if err != nil {
		return Result{}, err
	}
	return Result{DHT: d}, nil
}

// registerDHTLifecycle 注册 DHT 生命周期
func registerDHTLifecycle(lc fx.Lifecycle, d *KadDHT) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return d.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Stop(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
				logger.Warn("DHT 停止失败", "error", err)
			}
			return d.Close()
		},
	})
}
