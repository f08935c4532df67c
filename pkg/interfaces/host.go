package interfaces

import (
	"context"
	"io"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// Host 定义 P2P 主机接口
//
// Host 负责连接建立、协议协商与流处理，DHT 通过它收发 RPC。
type Host interface {
	// ID 返回主机的 PeerID
	ID() types.PeerID

	// Addrs 返回主机监听的地址列表
	Addrs() []ma.Multiaddr

	// Peerstore 返回节点信息存储
	Peerstore() Peerstore

	// Connect 连接到节点
	//
	// 已连接时直接返回；否则使用 pi.Addrs 与 Peerstore 中的地址拨号。
	Connect(ctx context.Context, pi types.PeerInfo) error

	// IsConnected 检查是否存在到该节点的连接
	IsConnected(peer types.PeerID) bool

	// NewStream 创建到指定节点的新流并完成协议协商
	NewStream(ctx context.Context, peer types.PeerID, protocolID types.ProtocolID) (Stream, error)

	// SetStreamHandler 为指定协议设置入站流处理器
	SetStreamHandler(protocolID types.ProtocolID, handler StreamHandler)

	// RemoveStreamHandler 移除指定协议的流处理器
	RemoveStreamHandler(protocolID types.ProtocolID)

	// Notify 注册连接事件通知
	Notify(n Notifiee)

	// StopNotify 取消连接事件通知
	StopNotify(n Notifiee)

	// Closed 检查主机是否已关闭
	Closed() bool

	// Close 关闭主机
	Close() error
}

// StreamHandler 流处理函数
type StreamHandler func(Stream)

// Stream 协议流
type Stream interface {
	io.ReadWriteCloser

	// Reset 异常关闭流
	Reset() error

	// SetDeadline 设置读写超时
	SetDeadline(t time.Time) error

	// SetReadDeadline 设置读超时
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline 设置写超时
	SetWriteDeadline(t time.Time) error

	// RemotePeer 返回对端 PeerID
	RemotePeer() types.PeerID

	// Protocol 返回协商后的协议
	Protocol() types.ProtocolID
}

// Notifiee 连接事件接收者
type Notifiee interface {
	// Connected 新连接建立
	Connected(peer types.PeerID)

	// Disconnected 连接断开
	Disconnected(peer types.PeerID)
}

// NotifyBundle 以函数字段实现 Notifiee
type NotifyBundle struct {
	ConnectedF    func(types.PeerID)
	DisconnectedF func(types.PeerID)
}

// Connected 实现 Notifiee
func (nb *NotifyBundle) Connected(p types.PeerID) {
	if nb.ConnectedF != nil {
		nb.ConnectedF(p)
	}
}

// Disconnected 实现 Notifiee
func (nb *NotifyBundle) Disconnected(p types.PeerID) {
	if nb.DisconnectedF != nil {
		nb.DisconnectedF(p)
	}
}
