package config

import (
	"errors"
	"fmt"
	"time"

	ma "github.com/multiformats/go-multiaddr"
)

// NetworkConfig 网络配置
type NetworkConfig struct {
	// Listen 监听地址（multiaddr），例如 "/ip4/0.0.0.0/tcp/4001"
	Listen []string `json:"listen"`

	// Bootstrap 引导节点，必须带 /p2p/<peer-id> 后缀
	Bootstrap []string `json:"bootstrap,omitempty"`

	// DialTimeout 拨号与握手超时
	DialTimeout Duration `json:"dial_timeout"`

	// BootstrapMaxElapsed 引导连接的最长重试时间
	BootstrapMaxElapsed Duration `json:"bootstrap_max_elapsed"`
}

// DefaultNetworkConfig 返回默认网络配置
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Listen:              []string{"/ip4/0.0.0.0/tcp/4001"},
		DialTimeout:         Duration(15 * time.Second),
		BootstrapMaxElapsed: Duration(2 * time.Minute),
	}
}

// Validate 验证网络配置
func (c NetworkConfig) Validate() error {
	for _, s := range c.Listen {
		if _, err := ma.NewMultiaddr(s); err != nil {
			return fmt.Errorf("network: invalid listen address %q: %w", s, err)
		}
	}
	for _, s := range c.Bootstrap {
		if _, err := ma.NewMultiaddr(s); err != nil {
			return fmt.Errorf("network: invalid bootstrap address %q: %w", s, err)
		}
	}
	if c.DialTimeout <= 0 {
		return errors.New("network: dial timeout must be positive")
	}
	return nil
}
