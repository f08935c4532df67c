package dht

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              GetClosestPeers
// ============================================================================

// GetClosestPeers 迭代查找距离 key 最近的 K 个节点
//
// 结果取自本次查询见过的全部节点，按到 key 的距离排序。路由表为空时返回 ErrLookupFailure。
func (d *KadDHT) GetClosestPeers(ctx context.Context, key []byte) (_ []types.PeerID, err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "GetClosestPeers", trace.WithAttributes(attribute.Int("key.len", len(key))))
	defer span.End()
	defer func() { d.metrics.operation("get_closest_peers", err) }()

	target := ConvertKey(key)
	seeds := d.routingTable.ClosestPeers(target, d.cfg.NumClosestPeers)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: routing table is empty", ErrLookupFailure)
	}

	q := d.newQuery(key, func(ctx context.Context, p types.PeerID) (*QueryResult, error) {
		resp, err := d.sendRequest(ctx, p, NewMessage(MessageFindNode, key, 0))
		if err != nil {
			return nil, err
		}
		return &QueryResult{CloserPeers: d.closerPeersFrom(resp)}, nil
	})

	res, err := q.Run(ctx, seeds)
	if err != nil {
		return nil, err
	}

	peers := SortByDistance(res.FinalSet, target)
	if len(peers) > d.cfg.BucketSize {
		peers = peers[:d.cfg.BucketSize]
	}
	span.SetAttributes(attribute.Int("peers", len(peers)))
	return peers, nil
}

// ============================================================================
//                              FindPeer
// ============================================================================

// FindPeer 查找节点地址
//
// 路由表或地址簿中已知的节点直接返回；否则迭代查询，任一节点返回目标即成功。
// 查询耗尽仍未找到返回 ErrNotFound。
func (d *KadDHT) FindPeer(ctx context.Context, id types.PeerID) (_ types.PeerInfo, err error) {
	if err := id.Validate(); err != nil {
		return types.PeerInfo{}, err
	}
	if pi, ok := d.findPeerLocal(id); ok {
		return pi, nil
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "FindPeer", trace.WithAttributes(attribute.String("peer", id.String())))
	defer span.End()
	defer func() { d.metrics.operation("find_peer", err) }()

	seeds := d.routingTable.ClosestPeers(ConvertPeerID(id), d.cfg.NumClosestPeers)
	if len(seeds) == 0 {
		return types.PeerInfo{}, fmt.Errorf("%w: routing table is empty", ErrLookupFailure)
	}

	key := []byte(id)
	q := d.newQuery(key, func(ctx context.Context, p types.PeerID) (*QueryResult, error) {
		resp, err := d.sendRequest(ctx, p, NewMessage(MessageFindNode, key, 0))
		if err != nil {
			return nil, err
		}
		closer := d.closerPeersFrom(resp)
		for i := range closer {
			if closer[i].ID == id && closer[i].HasAddrs() {
				return &QueryResult{Success: true, Peer: &closer[i], CloserPeers: closer}, nil
			}
		}
		return &QueryResult{CloserPeers: closer}, nil
	})

	res, err := q.Run(ctx, seeds)
	if err != nil {
		return types.PeerInfo{}, err
	}
	if res.Success == nil || res.Success.Peer == nil {
		return types.PeerInfo{}, fmt.Errorf("%w: peer %s", ErrNotFound, id.ShortString())
	}

	found := *res.Success.Peer
	d.addDiscoveredPeers([]types.PeerInfo{found})
	logger.Debug("找到节点", "peer", id.ShortString(), "addrs", len(found.Addrs))
	return found, nil
}

// findPeerLocal 从地址簿查找有可用地址的节点
func (d *KadDHT) findPeerLocal(id types.PeerID) (types.PeerInfo, bool) {
	if id == d.self {
		return types.PeerInfo{ID: d.self, Addrs: d.host.Addrs()}, true
	}
	pi := d.peerstore.PeerInfo(id)
	if !pi.HasAddrs() {
		return types.PeerInfo{}, false
	}
	return pi, true
}

// ============================================================================
//                              Bootstrap
// ============================================================================

// Bootstrap 查找距离本节点最近的节点以填充路由表
func (d *KadDHT) Bootstrap(ctx context.Context) error {
	if !d.IsStarted() {
		return ErrNotStarted
	}
	peers, err := d.GetClosestPeers(ctx, []byte(d.self))
	if err != nil {
		return err
	}
	logger.Info("DHT 引导完成", "closest", len(peers), "routingTable", d.routingTable.Size())
	return nil
}
