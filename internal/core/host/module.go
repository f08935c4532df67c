package host

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
)

// Params Host 模块依赖参数
type Params struct {
	fx.In

	Identity   interfaces.Identity
	Peerstore  interfaces.Peerstore
	UnifiedCfg *config.Config `optional:"true"`
}

// Result Host 模块提供的结果
type Result struct {
	fx.Out

	Host      *Host
	HostIface interfaces.Host
}

// Module 返回 Host Fx 模块
//
// 生命周期:
//   - OnStart: 开始监听
//   - OnStop: 关闭所有连接与监听
func Module() fx.Option {
	return fx.Module("host",
		fx.Provide(ProvideHost),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideHost 提供 Host
func ProvideHost(p Params) (Result, error) {
	cfg := config.DefaultNetworkConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Network
	}

	h, err := New(p.Identity,
		WithPeerstore(p.Peerstore),
		WithListenStrings(cfg.Listen...),
		WithDialTimeout(time.Duration(cfg.DialTimeout)),
	)
	if err != nil {
		return Result{}, err
	}
	return Result{Host: h, HostIface: h}, nil
}

func registerLifecycle(lc fx.Lifecycle, h *Host) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return h.Start()
		},
		OnStop: func(_ context.Context) error {
			return h.Close()
		},
	})
}
