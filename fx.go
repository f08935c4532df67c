package kaddht

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-kaddht/internal/core/host"
	"github.com/dep2p/go-kaddht/internal/core/identity"
	"github.com/dep2p/go-kaddht/internal/core/peerstore"
	"github.com/dep2p/go-kaddht/internal/core/storage"
	"github.com/dep2p/go-kaddht/internal/discovery/dht"
	pkgif "github.com/dep2p/go-kaddht/pkg/interfaces"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Identity → Storage → Peerstore
//  2. Host（依赖 Identity、Peerstore）
//  3. DHT（依赖 Host、Datastore）
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 配置注入
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(o.config),
		fx.Provide(func() prometheus.Registerer { return node.registerer }),
	}

	if o.privateKey != nil {
		id, err := identity.New(o.privateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid identity: %w", err)
		}
		modules = append(modules, fx.Supply(fx.Annotated{Name: "preset_identity", Target: id}))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 核心模块
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		identity.Module(),
		storage.Module(),
		peerstore.Module(),
		host.Module(),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. DHT
	// ════════════════════════════════════════════════════════════════════════
	if len(o.dhtOptions) > 0 {
		modules = append(modules, supplyDHTOptions(o.dhtOptions))
	}
	modules = append(modules, dht.Module)

	// ════════════════════════════════════════════════════════════════════════
	// 5. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 6. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		fx.Invoke(injectNodeComponents(node)),
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// supplyDHTOptions 将 DHT 选项合并后放入 dht_options 组
//
// 值组无序，合并为单个选项以保持用户给出的顺序。
func supplyDHTOptions(opts []dht.ConfigOption) fx.Option {
	combined := dht.ConfigOption(func(c *dht.Config) {
		for _, opt := range opts {
			opt(c)
		}
	})
	return fx.Provide(
		fx.Annotate(
			func() dht.ConfigOption { return combined },
			fx.ResultTags(`group:"dht_options"`),
		),
	)
}

// ════════════════════════════════════════════════════════════════════════════
// 组件注入辅助函数
// ════════════════════════════════════════════════════════════════════════════

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Identity  pkgif.Identity
	Host      pkgif.Host
	Peerstore pkgif.Peerstore
	DHT       *dht.KadDHT
}

// injectNodeComponents 创建 Node 组件注入函数
func injectNodeComponents(node *Node) func(nodeInjectParams) {
	return func(p nodeInjectParams) {
		node.identity = p.Identity
		node.host = p.Host
		node.peerstore = p.Peerstore
		node.dht = p.DHT
	}
}
