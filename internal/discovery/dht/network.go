package dht

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/msgio"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// newPeerProbeTimeout 新连接探测 DHT 协议的超时
const newPeerProbeTimeout = 10 * time.Second

// Network DHT 的 RPC 传输
//
// 每次请求打开一个新流：写一帧请求，读一帧响应，随后关闭流。
type Network struct {
	dht *KadDHT

	mu       sync.Mutex
	running  bool
	notifiee *interfaces.NotifyBundle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newNetwork(d *KadDHT) *Network {
	return &Network{dht: d}
}

// Start 注册协议处理器与连接通知
func (n *Network) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return ErrAlreadyStarted
	}
	if n.dht.host.Closed() {
		return ErrHostClosed
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.dht.host.SetStreamHandler(n.dht.cfg.ProtocolID, n.dht.handleNewStream)
	n.notifiee = &interfaces.NotifyBundle{ConnectedF: n.onPeerConnected}
	n.dht.host.Notify(n.notifiee)
	n.running = true

	logger.Debug("DHT 网络已启动", "protocol", n.dht.cfg.ProtocolID)
	return nil
}

// Stop 注销协议处理器与连接通知
func (n *Network) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return ErrNotStarted
	}
	n.running = false
	n.dht.host.RemoveStreamHandler(n.dht.cfg.ProtocolID)
	n.dht.host.StopNotify(n.notifiee)
	n.cancel()
	n.mu.Unlock()

	n.wg.Wait()
	logger.Debug("DHT 网络已停止")
	return nil
}

// IsStarted 返回网络是否在运行
func (n *Network) IsStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// SendRequest 发送请求并等待一帧响应
//
// 整个写-读过程受 ReadMessageTimeout 约束，超时返回 ErrTimeout。
func (n *Network) SendRequest(ctx context.Context, p types.PeerID, msg *Message) (*Message, error) {
	if !n.IsStarted() {
		return nil, ErrNetworkOffline
	}

	ctx, cancel := context.WithTimeout(ctx, n.dht.cfg.ReadMessageTimeout)
	defer cancel()

	start := n.dht.cfg.Clock.Now()
	resp, err := n.roundTrip(ctx, p, msg, true)
	n.dht.metrics.observeRPC(msg.Type, err, n.dht.cfg.Clock.Since(start))
	if err != nil {
		return nil, err
	}

	n.dht.routingTable.Add(p)
	return resp, nil
}

// SendMessage 发送消息，不等待响应
func (n *Network) SendMessage(ctx context.Context, p types.PeerID, msg *Message) error {
	if !n.IsStarted() {
		return ErrNetworkOffline
	}

	ctx, cancel := context.WithTimeout(ctx, n.dht.cfg.ReadMessageTimeout)
	defer cancel()

	_, err := n.roundTrip(ctx, p, msg, false)
	n.dht.metrics.observeRPC(msg.Type, err, 0)
	return err
}

// roundTrip 打开流、写请求、可选读响应
func (n *Network) roundTrip(ctx context.Context, p types.PeerID, msg *Message, wantResponse bool) (*Message, error) {
	s, err := n.dht.host.NewStream(ctx, p, n.dht.cfg.ProtocolID)
	if err != nil {
		return nil, timeoutError(ctx, fmt.Errorf("open stream to %s: %w", p.ShortString(), err))
	}
	defer s.Close()

	// 调用方取消时中断阻塞的读写
	stop := context.AfterFunc(ctx, func() {
		_ = s.SetDeadline(time.Now())
		_ = s.Reset()
	})
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}

	if err := msgio.WriteMsg(s, msg.Marshal()); err != nil {
		return nil, timeoutError(ctx, fmt.Errorf("write %s: %w", msg.Type, err))
	}
	if !wantResponse {
		return nil, nil
	}

	data, err := msgio.NewReader(s, n.dht.cfg.MaxMessageSize).ReadMsg()
	if err != nil {
		if errors.Is(err, msgio.ErrMsgTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrMessageTooLarge, err)
		}
		return nil, timeoutError(ctx, fmt.Errorf("read %s response: %w", msg.Type, err))
	}
	return UnmarshalMessage(data)
}

// onPeerConnected 新连接建立后探测对端是否支持 DHT 协议
func (n *Network) onPeerConnected(p types.PeerID) {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	ctx := n.ctx
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, newPeerProbeTimeout)
		defer cancel()

		s, err := n.dht.host.NewStream(ctx, p, n.dht.cfg.ProtocolID)
		if err != nil {
			// 对端可能不支持 DHT 协议
			logger.Debug("新节点不支持 DHT 协议", "peer", p.ShortString(), "error", err)
			return
		}
		_ = s.Close()
		n.dht.routingTable.Add(p)
	}()
}
