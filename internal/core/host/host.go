package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	mss "github.com/multiformats/go-multistream"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-kaddht/internal/core/peerstore"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
	"github.com/dep2p/go-kaddht/pkg/types"
)

var logger = log.Logger("core/host")

// Host P2P 主机实现
type Host struct {
	ctx       context.Context
	ctxCancel context.CancelFunc

	identity  interfaces.Identity
	peerstore interfaces.Peerstore
	config    *Config

	// multistream-select muxer 用于入站协议协商
	mux *mss.MultistreamMuxer[string]

	mu        sync.RWMutex
	listeners []manet.Listener
	conns     map[types.PeerID][]*conn
	notifiees map[interfaces.Notifiee]struct{}

	dialGroup singleflight.Group

	started  atomic.Bool
	closed   atomic.Bool
	refCount sync.WaitGroup
}

var _ interfaces.Host = (*Host)(nil)

// New 创建新的 Host
func New(id interfaces.Identity, opts ...Option) (*Host, error) {
	if id == nil {
		return nil, errors.New("identity is required")
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &Host{
		ctx:       ctx,
		ctxCancel: cancel,
		identity:  id,
		config:    DefaultConfig(),
		mux:       mss.NewMultistreamMuxer[string](),
		conns:     make(map[types.PeerID][]*conn),
		notifiees: make(map[interfaces.Notifiee]struct{}),
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if h.peerstore == nil {
		h.peerstore = peerstore.New()
	}
	if err := h.peerstore.AddPubKey(id.PeerID(), id.PublicKey()); err != nil {
		cancel()
		return nil, err
	}
	return h, nil
}

// ID 返回节点 ID
func (h *Host) ID() types.PeerID {
	return h.identity.PeerID()
}

// Peerstore 返回节点信息存储
func (h *Host) Peerstore() interfaces.Peerstore {
	return h.peerstore
}

// ============================================================================
//                              监听
// ============================================================================

// Start 在配置的地址上开始监听
func (h *Host) Start() error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	if !h.started.CompareAndSwap(false, true) {
		return nil
	}
	for _, addr := range h.config.ListenAddrs {
		if err := h.Listen(addr); err != nil {
			return err
		}
	}
	return nil
}

// Listen 在指定地址上监听
func (h *Host) Listen(addr ma.Multiaddr) error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	l, err := manet.Listen(addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		l.Close()
		return ErrHostClosed
	}
	h.listeners = append(h.listeners, l)
	h.refCount.Add(1)
	go h.acceptLoop(l)
	h.mu.Unlock()

	logger.Info("开始监听", "addr", l.Multiaddr().String(), "peer", h.ID().ShortString())
	return nil
}

func (h *Host) acceptLoop(l manet.Listener) {
	defer h.refCount.Done()

	for {
		raw, err := l.Accept()
		if err != nil {
			if !h.closed.Load() {
				logger.Warn("接受连接失败", "addr", l.Multiaddr().String(), "error", err)
			}
			return
		}
		h.refCount.Add(1)
		go func() {
			defer h.refCount.Done()
			if _, err := h.upgrade(raw, true, ""); err != nil {
				logger.Debug("入站连接升级失败", "remote", raw.RemoteMultiaddr().String(), "error", err)
			}
		}()
	}
}

// Addrs 返回可被其他节点拨号的监听地址
//
// 未指定地址（0.0.0.0 / ::）展开为本机接口地址。
func (h *Host) Addrs() []ma.Multiaddr {
	h.mu.RLock()
	listenAddrs := make([]ma.Multiaddr, 0, len(h.listeners))
	for _, l := range h.listeners {
		listenAddrs = append(listenAddrs, l.Multiaddr())
	}
	h.mu.RUnlock()

	if len(listenAddrs) == 0 {
		return nil
	}
	ifaceAddrs, err := manet.InterfaceMultiaddrs()
	if err != nil {
		return listenAddrs
	}
	resolved, err := manet.ResolveUnspecifiedAddresses(listenAddrs, ifaceAddrs)
	if err != nil {
		return listenAddrs
	}
	return resolved
}

// ============================================================================
//                              拨号
// ============================================================================

// Connect 连接到节点
func (h *Host) Connect(ctx context.Context, pi types.PeerInfo) error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	if pi.ID == h.ID() {
		return ErrDialSelf
	}
	if len(pi.Addrs) > 0 {
		h.peerstore.AddAddrs(pi.ID, pi.Addrs, peerstore.TempAddrTTL)
	}
	if h.IsConnected(pi.ID) {
		return nil
	}

	ch := h.dialGroup.DoChan(string(pi.ID), func() (interface{}, error) {
		// 拨号不随单个调用方取消
		return h.dial(h.ctx, pi.ID)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		return r.Err
	}
}

// dial 依次尝试节点的已知地址
func (h *Host) dial(ctx context.Context, p types.PeerID) (*conn, error) {
	if c := h.bestConn(p); c != nil {
		return c, nil
	}
	addrs := h.peerstore.Addrs(p)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, p.ShortString())
	}

	var errs error
	for _, addr := range addrs {
		c, err := h.dialAddr(ctx, p, addr)
		if err == nil {
			return c, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", addr, err))
		if errors.Is(err, ErrHostClosed) {
			break
		}
	}
	return nil, errs
}

func (h *Host) dialAddr(ctx context.Context, p types.PeerID, addr ma.Multiaddr) (*conn, error) {
	dctx, cancel := context.WithTimeout(ctx, h.config.DialTimeout)
	defer cancel()

	var d manet.Dialer
	raw, err := d.DialContext(dctx, addr)
	if err != nil {
		return nil, err
	}
	c, err := h.upgrade(raw, false, p)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// upgrade 完成握手并建立 yamux 会话
func (h *Host) upgrade(raw manet.Conn, isServer bool, expected types.PeerID) (*conn, error) {
	if err := raw.SetDeadline(time.Now().Add(h.config.HandshakeTimeout)); err != nil {
		raw.Close()
		return nil, err
	}
	res, err := h.handshake(raw, isServer)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if expected != "" && res.peer != expected {
		raw.Close()
		return nil, fmt.Errorf("%w: want %s, got %s", ErrPeerIDMismatch, expected.ShortString(), res.peer.ShortString())
	}
	if res.peer == h.ID() {
		raw.Close()
		return nil, ErrDialSelf
	}
	if err := raw.SetDeadline(time.Time{}); err != nil {
		raw.Close()
		return nil, err
	}

	var session *yamux.Session
	if isServer {
		session, err = yamux.Server(raw, h.config.Yamux)
	} else {
		session, err = yamux.Client(raw, h.config.Yamux)
	}
	if err != nil {
		raw.Close()
		return nil, err
	}

	c := &conn{
		remote:     res.peer,
		remoteAddr: raw.RemoteMultiaddr(),
		outbound:   !isServer,
		raw:        raw,
		session:    session,
	}

	// 对端宣告的监听地址与公钥
	if err := h.peerstore.AddPubKey(res.peer, res.pubKey); err != nil {
		session.Close()
		return nil, err
	}
	h.peerstore.AddAddrs(res.peer, res.addrs, peerstore.ConnectedAddrTTL)
	if c.outbound {
		h.peerstore.AddAddrs(res.peer, []ma.Multiaddr{c.remoteAddr}, peerstore.ConnectedAddrTTL)
	}

	if err := h.addConn(c); err != nil {
		session.Close()
		return nil, err
	}

	logger.Debug("连接已建立", "peer", res.peer.ShortString(), "outbound", c.outbound, "remote", c.remoteAddr.String())
	return c, nil
}

// ============================================================================
//                              连接管理
// ============================================================================

func (h *Host) addConn(c *conn) error {
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return ErrHostClosed
	}
	first := len(h.conns[c.remote]) == 0
	h.conns[c.remote] = append(h.conns[c.remote], c)
	h.refCount.Add(1)
	go h.serveConn(c)
	h.mu.Unlock()

	if first {
		h.notifyAll(func(n interfaces.Notifiee) { n.Connected(c.remote) })
	}
	return nil
}

func (h *Host) removeConn(c *conn) {
	h.mu.Lock()
	list := h.conns[c.remote]
	for i, x := range list {
		if x == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	last := len(list) == 0
	if last {
		delete(h.conns, c.remote)
	} else {
		h.conns[c.remote] = list
	}
	h.mu.Unlock()

	if last && !h.closed.Load() {
		h.notifyAll(func(n interfaces.Notifiee) { n.Disconnected(c.remote) })
	}
}

// bestConn 返回到节点的第一条存活连接
func (h *Host) bestConn(p types.PeerID) *conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns[p] {
		if c.alive() {
			return c
		}
	}
	return nil
}

// serveConn 接受连接上的入站流，会话结束时移除连接
func (h *Host) serveConn(c *conn) {
	defer h.refCount.Done()
	defer h.removeConn(c)

	for {
		s, err := c.session.AcceptStream()
		if err != nil {
			if !errors.Is(err, yamux.ErrSessionShutdown) && !errors.Is(err, io.EOF) {
				logger.Debug("接受流失败", "peer", c.remote.ShortString(), "error", err)
			}
			c.close()
			return
		}
		go h.handleInboundStream(newStream(s, c.remote))
	}
}

// handleInboundStream 协商协议并路由到处理器
func (h *Host) handleInboundStream(s *stream) {
	if h.closed.Load() {
		s.Reset()
		return
	}

	proto, handler, err := h.mux.Negotiate(s)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug("协议协商失败", "peer", s.remote.ShortString(), "error", err)
		}
		s.Reset()
		return
	}
	s.setProtocol(types.ProtocolID(proto))

	if handler == nil {
		s.Reset()
		return
	}
	if err := handler(proto, s); err != nil {
		logger.Debug("流处理失败", "peer", s.remote.ShortString(), "protocol", proto, "error", err)
		s.Reset()
	}
}

// IsConnected 检查是否存在到该节点的连接
func (h *Host) IsConnected(p types.PeerID) bool {
	return h.bestConn(p) != nil
}

// Peers 返回当前有连接的节点
func (h *Host) Peers() []types.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.PeerID, 0, len(h.conns))
	for p := range h.conns {
		out = append(out, p)
	}
	return out
}

// ClosePeer 关闭到节点的全部连接
func (h *Host) ClosePeer(p types.PeerID) error {
	h.mu.RLock()
	list := append([]*conn(nil), h.conns[p]...)
	h.mu.RUnlock()

	var errs error
	for _, c := range list {
		errs = multierr.Append(errs, c.close())
	}
	return errs
}

// ============================================================================
//                              流
// ============================================================================

// NewStream 创建到指定节点的新流并完成协议协商
func (h *Host) NewStream(ctx context.Context, p types.PeerID, protocolID types.ProtocolID) (interfaces.Stream, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}

	c := h.bestConn(p)
	if c == nil {
		if err := h.Connect(ctx, types.PeerInfo{ID: p}); err != nil {
			return nil, err
		}
		if c = h.bestConn(p); c == nil {
			return nil, ErrNotConnected
		}
	}

	s, err := c.openStream(ctx)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}
	if err := mss.SelectProtoOrFail(string(protocolID), s); err != nil {
		s.Reset()
		return nil, fmt.Errorf("protocol negotiation failed: %w", err)
	}
	_ = s.SetDeadline(time.Time{})
	s.setProtocol(protocolID)
	return s, nil
}

// SetStreamHandler 为指定协议设置流处理器
func (h *Host) SetStreamHandler(protocolID types.ProtocolID, handler interfaces.StreamHandler) {
	h.mux.AddHandler(string(protocolID), func(proto string, rwc io.ReadWriteCloser) error {
		s, ok := rwc.(*stream)
		if !ok {
			return fmt.Errorf("unexpected stream type for protocol %s", proto)
		}
		handler(s)
		return nil
	})
	logger.Debug("注册协议处理器", "protocolID", protocolID)
}

// RemoveStreamHandler 移除指定协议的流处理器
func (h *Host) RemoveStreamHandler(protocolID types.ProtocolID) {
	h.mux.RemoveHandler(string(protocolID))
	logger.Debug("移除协议处理器", "protocolID", protocolID)
}

// ============================================================================
//                              通知
// ============================================================================

// Notify 注册连接事件通知
func (h *Host) Notify(n interfaces.Notifiee) {
	h.mu.Lock()
	h.notifiees[n] = struct{}{}
	h.mu.Unlock()
}

// StopNotify 取消连接事件通知
func (h *Host) StopNotify(n interfaces.Notifiee) {
	h.mu.Lock()
	delete(h.notifiees, n)
	h.mu.Unlock()
}

// notifyAll 异步调用所有接收者，不阻塞连接处理
func (h *Host) notifyAll(fn func(interfaces.Notifiee)) {
	h.mu.RLock()
	list := make([]interfaces.Notifiee, 0, len(h.notifiees))
	for n := range h.notifiees {
		list = append(list, n)
	}
	h.mu.RUnlock()

	for _, n := range list {
		h.refCount.Add(1)
		go func(n interfaces.Notifiee) {
			defer h.refCount.Done()
			fn(n)
		}(n)
	}
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 关闭 Host
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	logger.Info("正在关闭 Host")

	h.ctxCancel()

	h.mu.Lock()
	listeners := h.listeners
	h.listeners = nil
	var conns []*conn
	for _, list := range h.conns {
		conns = append(conns, list...)
	}
	h.mu.Unlock()

	var errs error
	for _, l := range listeners {
		errs = multierr.Append(errs, l.Close())
	}
	for _, c := range conns {
		_ = c.close()
	}

	h.refCount.Wait()
	logger.Info("Host 已关闭")
	return errs
}

// Closed 返回 Host 是否已关闭
func (h *Host) Closed() bool {
	return h.closed.Load()
}
