package dht

import (
	"context"
	"sync"

	"github.com/dep2p/go-kaddht/internal/core/peerstore"
	"github.com/dep2p/go-kaddht/internal/core/storage/engine/badger"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
	"github.com/dep2p/go-kaddht/pkg/types"
)

var logger = log.Logger("discovery/dht")

var _ interfaces.DHT = (*KadDHT)(nil)

// KadDHT Kademlia DHT
type KadDHT struct {
	cfg       *Config
	host      interfaces.Host
	peerstore interfaces.Peerstore
	ds        interfaces.Datastore
	ownsDS    bool
	self      types.PeerID

	routingTable *RoutingTable
	providers    *Providers
	network      *Network
	randomWalk   *RandomWalk
	validators   Validators
	selectors    Selectors
	limiters     *rateLimiters
	metrics      *metrics

	// ctx 贯穿入站请求处理，Close 时取消
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	closed  bool
}

// New 创建 DHT
//
// ds 为空时使用内存 badger 存储，并在 Close 时关闭。
func New(h interfaces.Host, ds interfaces.Datastore, opts ...ConfigOption) (*KadDHT, error) {
	if h == nil {
		return nil, ErrNilHost
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ownsDS := false
	if ds == nil {
		eng, err := badger.NewInMemory()
		if err != nil {
			return nil, err
		}
		ds = eng
		ownsDS = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &KadDHT{
		cfg:        cfg,
		host:       h,
		peerstore:  h.Peerstore(),
		ds:         ds,
		ownsDS:     ownsDS,
		self:       h.ID(),
		validators: cfg.Validators,
		selectors:  cfg.Selectors,
		limiters:   newRateLimiters(cfg.InboundRate, cfg.InboundBurst),
		metrics:    newMetrics(),
		ctx:        ctx,
		cancel:     cancel,
	}

	d.routingTable = NewRoutingTable(d.self, cfg.BucketSize, cfg.Clock)
	d.routingTable.PeerAdded = func(p types.PeerID) {
		d.metrics.RoutingTableSize.Set(float64(d.routingTable.Size()))
		logger.Debug("节点加入路由表", "peer", p.ShortString())
	}
	d.routingTable.PeerRemoved = func(p types.PeerID) {
		d.metrics.RoutingTableSize.Set(float64(d.routingTable.Size()))
		logger.Debug("节点移出路由表", "peer", p.ShortString())
	}

	providers, err := NewProviders(ds, cfg.Providers, cfg.Clock)
	if err != nil {
		cancel()
		return nil, err
	}
	providers.onLoad = d.metrics.ProviderLoads.Inc
	d.providers = providers

	d.network = newNetwork(d)
	d.randomWalk = newRandomWalk(d)

	if err := d.metrics.register(cfg.Registerer); err != nil {
		cancel()
		return nil, err
	}

	logger.Debug("DHT 已创建", "self", d.self.ShortString(), "bucketSize", cfg.BucketSize, "alpha", cfg.Alpha)
	return d, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动网络、Provider 清理与随机游走
func (d *KadDHT) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrHostClosed
	}
	if d.running {
		return ErrAlreadyStarted
	}
	if err := d.network.Start(); err != nil {
		return err
	}
	d.providers.Start()
	if d.cfg.RandomWalk.Enabled {
		if err := d.randomWalk.Start(d.cfg.RandomWalk); err != nil {
			d.providers.Stop()
			_ = d.network.Stop()
			return err
		}
	}
	d.running = true

	logger.Info("DHT 已启动", "self", d.self.ShortString(), "protocol", d.cfg.ProtocolID)
	return nil
}

// Stop 停止 DHT
func (d *KadDHT) Stop(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return ErrNotStarted
	}
	d.randomWalk.Stop()
	d.providers.Stop()
	err := d.network.Stop()
	d.running = false

	logger.Info("DHT 已停止", "self", d.self.ShortString())
	return err
}

// Close 停止 DHT 并释放自有资源
func (d *KadDHT) Close() error {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	if running {
		if err := d.Stop(context.Background()); err != nil {
			logger.Warn("停止 DHT 失败", "error", err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.cancel()
	if d.ownsDS {
		return d.ds.Close()
	}
	return nil
}

// IsStarted 返回 DHT 是否在运行
func (d *KadDHT) IsStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// ============================================================================
//                              访问器
// ============================================================================

// Self 返回本节点 ID
func (d *KadDHT) Self() types.PeerID {
	return d.self
}

// RoutingTable 返回路由表
func (d *KadDHT) RoutingTable() *RoutingTable {
	return d.routingTable
}

// Providers 返回 Provider 注册表
func (d *KadDHT) Providers() *Providers {
	return d.providers
}

// Network 返回 RPC 传输
func (d *KadDHT) Network() *Network {
	return d.network
}

// RandomWalk 返回随机游走
func (d *KadDHT) RandomWalk() *RandomWalk {
	return d.randomWalk
}

// Config 返回配置
func (d *KadDHT) Config() Config {
	return *d.cfg
}

// ============================================================================
//                              内部辅助
// ============================================================================

// withTimeout ctx 无截止时间时套用 MaxTimeout
func (d *KadDHT) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.MaxTimeout)
}

// newQuery 创建查询，发现的节点地址写入地址簿
func (d *KadDHT) newQuery(key []byte, fn QueryFunc) *query {
	q := newQuery(d.self, key, d.cfg.Alpha, fn)
	q.clk = d.cfg.Clock
	q.onPeers = d.addDiscoveredPeers
	return q
}

// addDiscoveredPeers 记录查询中发现的节点地址
func (d *KadDHT) addDiscoveredPeers(infos []types.PeerInfo) {
	for _, pi := range infos {
		if pi.ID == d.self || !pi.HasAddrs() {
			continue
		}
		d.peerstore.AddAddrs(pi.ID, pi.Addrs, peerstore.DiscoveredAddrTTL)
	}
}

// sendRequest 发送请求，对端响应类型必须匹配
func (d *KadDHT) sendRequest(ctx context.Context, p types.PeerID, msg *Message) (*Message, error) {
	resp, err := d.network.SendRequest(ctx, p, msg)
	if err != nil {
		return nil, err
	}
	if resp.Type != msg.Type {
		return nil, NewDHTError(msg.Type.String(), ErrInvalidMessage, "unexpected response type "+resp.Type.String())
	}
	return resp, nil
}

// closerPeersFrom 从响应提取更近节点，排除本节点
func (d *KadDHT) closerPeersFrom(resp *Message) []types.PeerInfo {
	out := make([]types.PeerInfo, 0, len(resp.CloserPeers))
	for _, pm := range resp.CloserPeers {
		if pm.ID == d.self {
			continue
		}
		out = append(out, pm.Info())
	}
	return out
}
