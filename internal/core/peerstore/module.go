package peerstore

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-kaddht/pkg/interfaces"
)

// Module 返回 fx 模块配置
//
// 提供 interfaces.Peerstore，并在 OnStop 时停止后台清理。
func Module() fx.Option {
	return fx.Module("peerstore",
		fx.Provide(
			fx.Annotate(
				func() *Peerstore { return New() },
				fx.As(new(interfaces.Peerstore)),
				fx.OnStop(func(_ context.Context, ps *Peerstore) error {
					return ps.Close()
				}),
			),
		),
	)
}
