package host

import (
	"errors"
	"io"
	"time"

	"github.com/hashicorp/yamux"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-kaddht/pkg/interfaces"
)

// 协议 ID
const (
	// HandshakeProtocol 身份握手协议
	HandshakeProtocol = "/kaddht/hello/1.0.0"

	// YamuxProtocol 多路复用协议
	YamuxProtocol = "/yamux/1.0.0"
)

// Config Host 配置
type Config struct {
	// ListenAddrs 监听地址
	ListenAddrs []ma.Multiaddr

	// DialTimeout 单个地址的拨号超时（不含握手）
	DialTimeout time.Duration

	// HandshakeTimeout 握手与多路复用协商超时
	HandshakeTimeout time.Duration

	// Yamux 多路复用配置
	Yamux *yamux.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:      15 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Yamux:            DefaultYamuxConfig(),
	}
}

// DefaultYamuxConfig 返回默认的 yamux 配置
func DefaultYamuxConfig() *yamux.Config {
	return &yamux.Config{
		AcceptBacklog:          256,
		EnableKeepAlive:        true,
		KeepAliveInterval:      30 * time.Second,
		ConnectionWriteTimeout: 10 * time.Second,
		MaxStreamWindowSize:    256 * 1024,
		StreamOpenTimeout:      75 * time.Second,
		StreamCloseTimeout:     5 * time.Minute,
		LogOutput:              io.Discard,
	}
}

// Option Host 配置选项
type Option func(*Host) error

// WithListenAddrs 设置监听地址
func WithListenAddrs(addrs ...ma.Multiaddr) Option {
	return func(h *Host) error {
		h.config.ListenAddrs = append(h.config.ListenAddrs, addrs...)
		return nil
	}
}

// WithListenStrings 以字符串设置监听地址
func WithListenStrings(addrs ...string) Option {
	return func(h *Host) error {
		for _, s := range addrs {
			a, err := ma.NewMultiaddr(s)
			if err != nil {
				return err
			}
			h.config.ListenAddrs = append(h.config.ListenAddrs, a)
		}
		return nil
	}
}

// WithDialTimeout 设置拨号超时
func WithDialTimeout(d time.Duration) Option {
	return func(h *Host) error {
		if d <= 0 {
			return errors.New("dial timeout must be positive")
		}
		h.config.DialTimeout = d
		return nil
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(h *Host) error {
		if d <= 0 {
			return errors.New("handshake timeout must be positive")
		}
		h.config.HandshakeTimeout = d
		return nil
	}
}

// WithPeerstore 设置节点信息存储
func WithPeerstore(ps interfaces.Peerstore) Option {
	return func(h *Host) error {
		h.peerstore = ps
		return nil
	}
}
