// Package storage 提供 DHT 使用的 Datastore
//
// 默认使用 BadgerDB 内存模式；配置 DataDir 后切换为持久化模式。
package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/internal/core/storage/engine"
	"github.com/dep2p/go-kaddht/internal/core/storage/engine/badger"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result Storage 模块提供的结果
type Result struct {
	fx.Out

	Engine    *badger.Engine
	Datastore interfaces.Datastore
}

// Module 返回 Storage Fx 模块
//
// 提供:
//   - *badger.Engine: 存储引擎实例
//   - interfaces.Datastore: DHT 数据存储
//
// 生命周期:
//   - OnStart: 启动引擎（GC 等后台任务）
//   - OnStop: 关闭引擎
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideStorage 提供存储引擎
func ProvideStorage(p Params) (Result, error) {
	eng, err := NewEngine(ConfigFromUnified(p.UnifiedCfg))
	if err != nil {
		return Result{}, err
	}
	return Result{Engine: eng, Datastore: eng}, nil
}

// ConfigFromUnified 将统一配置转换为引擎配置
func ConfigFromUnified(cfg *config.Config) *engine.Config {
	if cfg == nil || cfg.Storage.InMemory {
		return engine.InMemoryConfig()
	}
	ec := engine.DefaultConfig(cfg.Storage.DBPath())
	ec.SyncWrites = cfg.Storage.SyncWrites
	ec.Badger.GCInterval = cfg.Storage.GCInterval.Duration()
	return ec
}

// NewEngine 根据配置创建存储引擎
func NewEngine(cfg *engine.Config) (*badger.Engine, error) {
	logger.Debug("创建存储引擎", "inMemory", cfg.InMemory, "path", cfg.Path)
	if cfg.Logger == nil {
		cfg.WithLogger(badger.NewLogger())
	}
	eng, err := badger.New(cfg)
	if err != nil {
		logger.Error("创建存储引擎失败", "error", err)
		return nil, err
	}
	return eng, nil
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, eng *badger.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := eng.Start(); err != nil {
				logger.Error("存储引擎启动失败", "error", err)
				return err
			}
			logger.Info("存储引擎启动成功")
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				logger.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			logger.Info("存储引擎已关闭")
			return nil
		},
	})
}
