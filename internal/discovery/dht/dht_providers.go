package dht

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-kaddht/internal/core/peerstore"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              Provide
// ============================================================================

// Provide 声明本节点可提供 cid
//
// 先在本地登记，再向距离 cid 最近的 K 个节点发送 ADD_PROVIDER。路由表为空时只登记本地。
func (d *KadDHT) Provide(ctx context.Context, cid []byte) (err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "Provide", trace.WithAttributes(attribute.Int("cid.len", len(cid))))
	defer span.End()
	defer func() { d.metrics.operation("provide", err) }()

	if err := d.providers.AddProvider(ctx, cid, d.self); err != nil {
		return err
	}

	peers, err := d.GetClosestPeers(ctx, cid)
	if errors.Is(err, ErrLookupFailure) {
		logger.Debug("路由表为空，Provider 仅登记在本地")
		return nil
	}
	if err != nil {
		return err
	}

	msg := NewMessage(MessageAddProvider, cid, 0)
	msg.ProviderPeers = []PeerMessage{d.selfPeerMessage()}

	var g errgroup.Group
	for _, p := range peers {
		p := p
		g.Go(func() error {
			if err := d.network.SendMessage(ctx, p, msg); err != nil {
				logger.Debug("ADD_PROVIDER 失败", "peer", p.ShortString(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Debug("Provider 已发布", "peers", len(peers))
	return nil
}

// ============================================================================
//                              FindProviders
// ============================================================================

// providerCollector 按发现顺序去重收集 Provider
type providerCollector struct {
	mu    sync.Mutex
	limit int
	seen  map[types.PeerID]struct{}
	out   []types.PeerInfo
}

func newProviderCollector(limit int) *providerCollector {
	return &providerCollector{limit: limit, seen: make(map[types.PeerID]struct{})}
}

// add 添加 Provider，返回是否已达上限
func (c *providerCollector) add(pi types.PeerInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.out) >= c.limit {
		return true
	}
	if _, ok := c.seen[pi.ID]; !ok {
		c.seen[pi.ID] = struct{}{}
		c.out = append(c.out, pi)
	}
	return len(c.out) >= c.limit
}

func (c *providerCollector) full() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.out) >= c.limit
}

func (c *providerCollector) list() []types.PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.PeerInfo, len(c.out))
	copy(out, c.out)
	return out
}

// FindProviders 查找 cid 的 Provider，最多 K 个
func (d *KadDHT) FindProviders(ctx context.Context, cid []byte) ([]types.PeerInfo, error) {
	return d.FindNProviders(ctx, cid, d.cfg.BucketSize)
}

// FindNProviders 查找 cid 的 Provider，最多 n 个
//
// 本地登记的 Provider 优先；不足 n 个时迭代查询。超时返回已找到的部分结果。
func (d *KadDHT) FindNProviders(ctx context.Context, cid []byte, n int) (_ []types.PeerInfo, err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "FindProviders", trace.WithAttributes(attribute.Int("n", n)))
	defer span.End()
	defer func() { d.metrics.operation("find_providers", err) }()

	if n <= 0 {
		return nil, nil
	}

	found := newProviderCollector(n)
	local, err := d.providers.GetProviders(ctx, cid)
	if err != nil {
		return nil, err
	}
	for _, p := range local {
		if p == d.self {
			found.add(types.PeerInfo{ID: d.self, Addrs: d.host.Addrs()})
		} else {
			found.add(d.peerstore.PeerInfo(p))
		}
	}
	if found.full() {
		return found.list(), nil
	}

	seeds := d.routingTable.ClosestPeers(ConvertKey(cid), d.cfg.NumClosestPeers)
	if len(seeds) == 0 {
		if out := found.list(); len(out) > 0 {
			return out, nil
		}
		return nil, fmt.Errorf("%w: routing table is empty", ErrLookupFailure)
	}

	q := d.newQuery(cid, func(ctx context.Context, p types.PeerID) (*QueryResult, error) {
		resp, err := d.sendRequest(ctx, p, NewMessage(MessageGetProviders, cid, 0))
		if err != nil {
			return nil, err
		}
		providers := peerMessagesToInfos(resp.ProviderPeers)
		full := false
		for _, pi := range providers {
			if pi.ID != d.self && pi.HasAddrs() {
				d.peerstore.AddAddrs(pi.ID, pi.Addrs, peerstore.ProviderAddrTTL)
			}
			full = found.add(pi)
		}
		return &QueryResult{
			Success:       full,
			CloserPeers:   d.closerPeersFrom(resp),
			ProviderPeers: providers,
		}, nil
	})

	_, err = q.Run(ctx, seeds)
	out := found.list()
	if err != nil {
		if errors.Is(err, ErrTimeout) && len(out) > 0 {
			logger.Debug("查找 Provider 超时，返回部分结果", "found", len(out))
			return out, nil
		}
		if len(out) == 0 {
			return nil, err
		}
	}
	return out, nil
}
