package kaddht

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multihash"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/internal/discovery/dht"
	pkgif "github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
	"github.com/dep2p/go-kaddht/pkg/types"
)

var logger = log.Logger("kaddht")

// 生命周期超时
const (
	initializeTimeout = 30 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateStarting 启动中
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopping 关闭中
	StateStopping

	// StateClosed 已关闭，不可重新启动
	StateClosed
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Node 结构
// ════════════════════════════════════════════════════════════════════════════

// Node Kademlia DHT 节点
//
// Node 持有 Fx 应用，所有组件由 Fx 构建并在 Start/Close 时启停。
type Node struct {
	cfg *config.Config
	app *fx.App

	// registerer 指标注册器；gatherer 为空时不提供 HTTP 指标
	registerer    prometheus.Registerer
	gatherer      prometheus.Gatherer
	metricsServer *metricsServer

	// ────────────────────────────────────────────────────────────────────────
	// 由 Fx 注入的组件
	// ────────────────────────────────────────────────────────────────────────

	identity  pkgif.Identity
	host      pkgif.Host
	peerstore pkgif.Peerstore
	dht       *dht.KadDHT

	// ctx 后台任务（引导）的生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	state NodeState
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建新节点
//
// 创建节点但不启动，需要调用 Start() 启动。
//
// 示例：
//
//	node, err := kaddht.New(ctx,
//	    kaddht.WithListenAddrs("/ip4/0.0.0.0/tcp/4001"),
//	    kaddht.WithKeyFile("node.key"),
//	)
func New(_ context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	node := &Node{
		cfg:        o.config,
		registerer: o.registerer,
		state:      StateIdle,
	}
	if node.registerer == nil {
		reg := newRegistry()
		node.registerer = reg
		node.gatherer = reg
	} else if g, ok := node.registerer.(prometheus.Gatherer); ok {
		node.gatherer = g
	}
	node.ctx, node.cancel = context.WithCancel(context.Background())

	var err error
	node.app, err = buildFxApp(o, node)
	if err != nil {
		node.cancel()
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return node, nil
}

// Start 快捷启动函数
//
// 创建节点并立即启动，等价于 New() + Start()。
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 执行流程：
//  1. 启动 Fx 应用（存储 → 主机监听 → DHT）
//  2. 启动指标服务（如已配置）
//  3. 后台连接引导节点
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateClosed, StateStopping:
		return ErrNodeClosed
	case StateStarting, StateRunning:
		return ErrAlreadyStarted
	}

	n.state = StateStarting
	logger.Info("正在启动节点")

	initCtx, initCancel := context.WithTimeout(ctx, initializeTimeout)
	defer initCancel()

	if err := n.app.Start(initCtx); err != nil {
		n.state = StateIdle
		logger.Error("节点启动失败", "error", err)
		return fmt.Errorf("initialize failed: %w", err)
	}

	if n.cfg.Metrics.Enabled {
		if n.gatherer == nil {
			logger.Warn("指标注册器不支持采集，跳过指标服务")
		} else {
			ms, err := startMetricsServer(n.cfg.Metrics.Addr, n.registerer, n.gatherer)
			if err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer stopCancel()
				n.state = StateIdle
				return multierr.Append(fmt.Errorf("metrics server: %w", err), n.app.Stop(stopCtx))
			}
			n.metricsServer = ms
		}
	}

	n.state = StateRunning
	logger.Info("节点已启动",
		"peerID", n.host.ID().ShortString(),
		"addrs", n.host.Addrs())

	if len(n.cfg.Network.Bootstrap) > 0 {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.Bootstrap(n.ctx); err != nil && n.ctx.Err() == nil {
				logger.Warn("引导失败", "error", err)
			}
		}()
	}
	return nil
}

// Close 关闭节点并释放所有资源
//
// Close 后节点不可重新启动，重复调用返回 nil。
func (n *Node) Close() error {
	n.mu.Lock()
	if n.state == StateClosed || n.state == StateStopping {
		n.mu.Unlock()
		return nil
	}
	wasStarted := n.state == StateRunning
	n.state = StateStopping
	n.mu.Unlock()

	logger.Info("正在关闭节点")

	// 先结束后台引导，再停止组件
	n.cancel()
	n.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if n.metricsServer != nil {
		err = multierr.Append(err, n.metricsServer.Shutdown(ctx))
	}
	if wasStarted {
		err = multierr.Append(err, n.app.Stop(ctx))
	}

	n.mu.Lock()
	n.state = StateClosed
	n.mu.Unlock()

	if err != nil {
		logger.Warn("关闭节点时出错", "error", err)
		return err
	}
	logger.Info("节点已关闭")
	return nil
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// IsRunning 检查节点是否运行中
func (n *Node) IsRunning() bool {
	return n.State() == StateRunning
}

// checkRunning 检查节点是否可以执行操作
func (n *Node) checkRunning() error {
	switch n.State() {
	case StateRunning:
		return nil
	case StateStopping, StateClosed:
		return ErrNodeClosed
	default:
		return ErrNotStarted
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.PeerID {
	if n.identity == nil {
		return ""
	}
	return n.identity.PeerID()
}

// PrivateKey 返回节点私钥
func (n *Node) PrivateKey() crypto.PrivateKey {
	if n.identity == nil {
		return nil
	}
	return n.identity.PrivateKey()
}

// Addrs 返回实际监听地址
func (n *Node) Addrs() []ma.Multiaddr {
	if n.host == nil {
		return nil
	}
	return n.host.Addrs()
}

// ShareableAddrs 返回带 /p2p/<peer-id> 后缀的完整地址，可直接用作引导地址
func (n *Node) ShareableAddrs() []string {
	addrs := n.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String()+"/p2p/"+n.ID().String())
	}
	return out
}

// Host 返回网络主机
func (n *Node) Host() pkgif.Host {
	return n.host
}

// Peerstore 返回节点存储
func (n *Node) Peerstore() pkgif.Peerstore {
	return n.peerstore
}

// DHT 返回 DHT 实例
func (n *Node) DHT() pkgif.DHT {
	return n.dht
}

// RoutingTableSize 返回路由表中的节点数
func (n *Node) RoutingTableSize() int {
	if n.dht == nil {
		return 0
	}
	return n.dht.RoutingTable().Size()
}

// MetricsAddr 返回指标服务的实际监听地址，未启用时为空
func (n *Node) MetricsAddr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.metricsServer == nil {
		return ""
	}
	return n.metricsServer.Addr()
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接
// ════════════════════════════════════════════════════════════════════════════

// Connect 连接到完整地址（带 /p2p/<peer-id> 后缀）的节点
func (n *Node) Connect(ctx context.Context, addr string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	pi, err := types.ParsePeerAddr(addr)
	if err != nil {
		return fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	return n.host.Connect(ctx, pi)
}

// ════════════════════════════════════════════════════════════════════════════
//                              DHT 操作
// ════════════════════════════════════════════════════════════════════════════

// Put 存储记录
func (n *Node) Put(ctx context.Context, key string, value []byte) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.dht.Put(ctx, key, value)
}

// Get 查询记录
func (n *Node) Get(ctx context.Context, key string) ([]byte, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.Get(ctx, key)
}

// GetPublicKey 获取节点公钥
func (n *Node) GetPublicKey(ctx context.Context, p types.PeerID) (crypto.PublicKey, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.GetPublicKey(ctx, p)
}

// Provide 宣告本节点提供内容
func (n *Node) Provide(ctx context.Context, c cid.Cid) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	if !c.Defined() {
		return errors.New("undefined cid")
	}
	return n.dht.Provide(ctx, c.Bytes())
}

// FindProviders 查找内容提供者
func (n *Node) FindProviders(ctx context.Context, c cid.Cid) ([]types.PeerInfo, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	if !c.Defined() {
		return nil, errors.New("undefined cid")
	}
	return n.dht.FindProviders(ctx, c.Bytes())
}

// FindPeer 查找节点地址
func (n *Node) FindPeer(ctx context.Context, id types.PeerID) (types.PeerInfo, error) {
	if err := n.checkRunning(); err != nil {
		return types.PeerInfo{}, err
	}
	return n.dht.FindPeer(ctx, id)
}

// GetClosestPeers 返回距离 key 最近的节点
func (n *Node) GetClosestPeers(ctx context.Context, key []byte) ([]types.PeerID, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.GetClosestPeers(ctx, key)
}

// CIDFromData 计算数据的 CIDv1（raw 编解码 + sha2-256）
func CIDFromData(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}
