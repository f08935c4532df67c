package identity

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`

	// Identity 直接注入的身份，优先于配置
	Preset *Identity `name:"preset_identity" optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Identity interfaces.Identity
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}

// ProvideIdentity 提供节点身份
//
// 优先级：注入的身份 > 密钥文件 > 临时生成。
func ProvideIdentity(in ModuleInput) (ModuleOutput, error) {
	if in.Preset != nil {
		return ModuleOutput{Identity: in.Preset}, nil
	}

	cfg := config.DefaultIdentityConfig()
	if in.UnifiedCfg != nil {
		cfg = in.UnifiedCfg.Identity
	}

	var (
		id  *Identity
		err error
	)
	if cfg.KeyFile != "" {
		id, err = LoadOrGenerate(cfg.KeyFile, cfg.AutoGenerate)
		if err != nil {
			return ModuleOutput{}, fmt.Errorf("加载身份失败: %w", err)
		}
	} else {
		id, err = Generate()
		if err != nil {
			return ModuleOutput{}, fmt.Errorf("创建身份失败: %w", err)
		}
		logger.Debug("使用临时身份", "peer", id.PeerID().ShortString())
	}
	return ModuleOutput{Identity: id}, nil
}
