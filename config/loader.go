package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 命令行与环境变量键名
const (
	KeyConfigFile  = "config"
	KeyKeyFile     = "key-file"
	KeyListen      = "listen"
	KeyBootstrap   = "bootstrap"
	KeyDataDir     = "data-dir"
	KeyInMemory    = "in-memory"
	KeyLogLevel    = "log-level"
	KeyLogFormat   = "log-format"
	KeyMetricsAddr = "metrics-addr"
	KeyBucketSize  = "bucket-size"
	KeyAlpha       = "alpha"
	KeyRandomWalk  = "random-walk"
)

// EnvPrefix 环境变量前缀，例如 KADDHT_LISTEN
const EnvPrefix = "kaddht"

// Load 从 viper 构建配置
//
// 优先级：命令行 / 环境变量 > 配置文件 > 默认值。
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewConfig()
	if path := v.GetString(KeyConfigFile); path != "" {
		fileCfg, err := FromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if v.IsSet(KeyKeyFile) {
		cfg.Identity.KeyFile = v.GetString(KeyKeyFile)
	}
	if v.IsSet(KeyListen) {
		cfg.Network.Listen = v.GetStringSlice(KeyListen)
	}
	if v.IsSet(KeyBootstrap) {
		cfg.Network.Bootstrap = v.GetStringSlice(KeyBootstrap)
	}
	if v.IsSet(KeyDataDir) {
		cfg.Storage.DataDir = v.GetString(KeyDataDir)
		cfg.Storage.InMemory = false
	}
	if v.IsSet(KeyInMemory) {
		cfg.Storage.InMemory = v.GetBool(KeyInMemory)
	}
	if v.IsSet(KeyLogLevel) {
		cfg.Log.Level = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogFormat) {
		cfg.Log.Format = v.GetString(KeyLogFormat)
	}
	if v.IsSet(KeyMetricsAddr) {
		if addr := v.GetString(KeyMetricsAddr); addr != "" {
			cfg.Metrics.Enabled = true
			cfg.Metrics.Addr = addr
		}
	}
	if v.IsSet(KeyBucketSize) {
		cfg.DHT.BucketSize = v.GetInt(KeyBucketSize)
	}
	if v.IsSet(KeyAlpha) {
		cfg.DHT.Alpha = v.GetInt(KeyAlpha)
	}
	if v.IsSet(KeyRandomWalk) {
		cfg.DHT.RandomWalk.Enabled = v.GetBool(KeyRandomWalk)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
