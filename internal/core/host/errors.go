package host

import "errors"

var (
	// ErrHostClosed 主机已关闭
	ErrHostClosed = errors.New("host: closed")

	// ErrNoAddresses 没有可拨号的地址
	ErrNoAddresses = errors.New("host: no addresses")

	// ErrDialSelf 拨号自身
	ErrDialSelf = errors.New("host: dial to self attempted")

	// ErrPeerIDMismatch 握手得到的身份与期望不符
	ErrPeerIDMismatch = errors.New("host: peer id mismatch")

	// ErrInvalidHello 握手消息无效
	ErrInvalidHello = errors.New("host: invalid hello")

	// ErrNotConnected 没有到节点的连接
	ErrNotConnected = errors.New("host: not connected")
)
