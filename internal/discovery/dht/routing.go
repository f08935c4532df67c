package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              路由表条目
// ============================================================================

// RoutingEntry 路由表条目
type RoutingEntry struct {
	// ID 节点在路由空间中的 Key
	ID Key

	// Peer 节点 ID
	Peer types.PeerID

	// AddedAt 加入时间
	AddedAt time.Time

	// LastSeen 最近一次见到的时间
	LastSeen time.Time
}

// bucket K 桶，entries 按最近活跃时间排序（下标 0 最旧）
type bucket struct {
	entries []*RoutingEntry
}

func (b *bucket) indexOf(p types.PeerID) int {
	for i, e := range b.entries {
		if e.Peer == p {
			return i
		}
	}
	return -1
}

// ============================================================================
//                              路由表
// ============================================================================

// RoutingTable K 桶路由表
//
// 桶按节点 Key 与本地 Key 的公共前缀长度划分。桶满时直接淘汰最旧的条目，
// 不对其做存活探测。
type RoutingTable struct {
	self       types.PeerID
	local      Key
	bucketSize int
	clk        clock.Clock

	mu      sync.RWMutex
	buckets [KeyBits]bucket
	size    int

	// PeerAdded 节点加入回调（在锁外调用）
	PeerAdded func(types.PeerID)

	// PeerRemoved 节点移除回调（在锁外调用）
	PeerRemoved func(types.PeerID)
}

// NewRoutingTable 创建路由表
func NewRoutingTable(self types.PeerID, bucketSize int, clk clock.Clock) *RoutingTable {
	if bucketSize <= 0 {
		bucketSize = K
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RoutingTable{
		self:       self,
		local:      ConvertPeerID(self),
		bucketSize: bucketSize,
		clk:        clk,
	}
}

// bucketIndex 返回 Key 所属的桶下标
func (rt *RoutingTable) bucketIndex(id Key) int {
	cpl := CommonPrefixLen(rt.local, id)
	if cpl >= KeyBits {
		cpl = KeyBits - 1
	}
	return cpl
}

// Add 添加或刷新节点
//
// 已存在时移动到桶尾（最近活跃端）；桶满时淘汰桶头（最旧）条目。
// 返回是否为新加入的节点。
func (rt *RoutingTable) Add(p types.PeerID) bool {
	if p == rt.self || p.IsEmpty() {
		return false
	}

	id := ConvertPeerID(p)
	now := rt.clk.Now()

	rt.mu.Lock()
	b := &rt.buckets[rt.bucketIndex(id)]
	if i := b.indexOf(p); i >= 0 {
		e := b.entries[i]
		e.LastSeen = now
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		b.entries = append(b.entries, e)
		rt.mu.Unlock()
		return false
	}

	var evicted types.PeerID
	if len(b.entries) >= rt.bucketSize {
		evicted = b.entries[0].Peer
		b.entries = b.entries[1:]
		rt.size--
	}
	b.entries = append(b.entries, &RoutingEntry{ID: id, Peer: p, AddedAt: now, LastSeen: now})
	rt.size++
	added, removed := rt.PeerAdded, rt.PeerRemoved
	rt.mu.Unlock()

	if evicted != "" {
		logger.Debug("K 桶已满，淘汰最旧节点", "evicted", evicted.ShortString(), "admitted", p.ShortString())
		if removed != nil {
			removed(evicted)
		}
	}
	if added != nil {
		added(p)
	}
	return true
}

// Remove 移除节点，不存在时忽略
func (rt *RoutingTable) Remove(p types.PeerID) {
	id := ConvertPeerID(p)

	rt.mu.Lock()
	b := &rt.buckets[rt.bucketIndex(id)]
	i := b.indexOf(p)
	if i < 0 {
		rt.mu.Unlock()
		return
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	rt.size--
	removed := rt.PeerRemoved
	rt.mu.Unlock()

	if removed != nil {
		removed(p)
	}
}

// Find 仅当 p 恰好是其自身 Key 的最近节点时返回 p
func (rt *RoutingTable) Find(p types.PeerID) (types.PeerID, bool) {
	closest, ok := rt.ClosestPeer(ConvertPeerID(p))
	if !ok || closest != p {
		return "", false
	}
	return closest, true
}

// ClosestPeer 返回距离 key 最近的节点
func (rt *RoutingTable) ClosestPeer(key Key) (types.PeerID, bool) {
	peers := rt.ClosestPeers(key, 1)
	if len(peers) == 0 {
		return "", false
	}
	return peers[0], true
}

// ClosestPeers 返回至多 count 个按距离升序排列的节点
func (rt *RoutingTable) ClosestPeers(key Key, count int) []types.PeerID {
	if count <= 0 {
		return nil
	}

	rt.mu.RLock()
	entries := make([]*RoutingEntry, 0, rt.size)
	for i := range rt.buckets {
		entries = append(entries, rt.buckets[i].entries...)
	}
	rt.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return CompareDistance(entries[i].ID, entries[j].ID, key) < 0
	})
	if len(entries) > count {
		entries = entries[:count]
	}

	peers := make([]types.PeerID, len(entries))
	for i, e := range entries {
		peers[i] = e.Peer
	}
	return peers
}

// ListPeers 返回全部节点
func (rt *RoutingTable) ListPeers() []types.PeerID {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	peers := make([]types.PeerID, 0, rt.size)
	for i := range rt.buckets {
		for _, e := range rt.buckets[i].entries {
			peers = append(peers, e.Peer)
		}
	}
	return peers
}

// Size 返回节点数量
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.size
}
