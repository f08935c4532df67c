package peerstore

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// expiringAddr 带过期时间的地址
type expiringAddr struct {
	addr   ma.Multiaddr
	ttl    time.Duration
	expiry time.Time
}

func (e *expiringAddr) expiredAt(now time.Time) bool {
	return !now.Before(e.expiry)
}

// addrBook 内存地址簿
type addrBook struct {
	mu    sync.RWMutex
	clk   clock.Clock
	addrs map[types.PeerID]map[string]*expiringAddr
}

func newAddrBook(clk clock.Clock) *addrBook {
	return &addrBook{
		clk:   clk,
		addrs: make(map[types.PeerID]map[string]*expiringAddr),
	}
}

// expiryOf 计算过期时间，避免 PermanentAddrTTL 溢出
func (ab *addrBook) expiryOf(now time.Time, ttl time.Duration) time.Time {
	if ttl == PermanentAddrTTL {
		return time.Unix(1<<62, 0)
	}
	return now.Add(ttl)
}

// AddAddrs 添加地址
//
// 已存在的地址只会延长过期时间，不会缩短。
func (ab *addrBook) AddAddrs(p types.PeerID, addrs []ma.Multiaddr, ttl time.Duration) {
	if ttl <= 0 || len(addrs) == 0 {
		return
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	now := ab.clk.Now()
	expiry := ab.expiryOf(now, ttl)
	m := ab.addrs[p]
	if m == nil {
		m = make(map[string]*expiringAddr, len(addrs))
		ab.addrs[p] = m
	}
	for _, a := range addrs {
		if a == nil {
			continue
		}
		key := string(a.Bytes())
		if ea, ok := m[key]; ok {
			if expiry.After(ea.expiry) {
				ea.expiry = expiry
				ea.ttl = ttl
			}
			continue
		}
		m[key] = &expiringAddr{addr: a, ttl: ttl, expiry: expiry}
	}
}

// SetAddrs 覆盖地址的 TTL，ttl <= 0 时删除这些地址
func (ab *addrBook) SetAddrs(p types.PeerID, addrs []ma.Multiaddr, ttl time.Duration) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	m := ab.addrs[p]
	if m == nil {
		if ttl <= 0 {
			return
		}
		m = make(map[string]*expiringAddr, len(addrs))
		ab.addrs[p] = m
	}

	now := ab.clk.Now()
	for _, a := range addrs {
		if a == nil {
			continue
		}
		key := string(a.Bytes())
		if ttl <= 0 {
			delete(m, key)
			continue
		}
		m[key] = &expiringAddr{addr: a, ttl: ttl, expiry: ab.expiryOf(now, ttl)}
	}
	if len(m) == 0 {
		delete(ab.addrs, p)
	}
}

// Addrs 返回未过期的地址，并顺带清理过期项
func (ab *addrBook) Addrs(p types.PeerID) []ma.Multiaddr {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	m := ab.addrs[p]
	if len(m) == 0 {
		return nil
	}

	now := ab.clk.Now()
	out := make([]ma.Multiaddr, 0, len(m))
	for key, ea := range m {
		if ea.expiredAt(now) {
			delete(m, key)
			continue
		}
		out = append(out, ea.addr)
	}
	if len(m) == 0 {
		delete(ab.addrs, p)
	}
	return out
}

// ClearAddrs 清除节点全部地址
func (ab *addrBook) ClearAddrs(p types.PeerID) {
	ab.mu.Lock()
	delete(ab.addrs, p)
	ab.mu.Unlock()
}

// peersWithAddrs 返回有地址记录的节点
func (ab *addrBook) peersWithAddrs() []types.PeerID {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	out := make([]types.PeerID, 0, len(ab.addrs))
	for p := range ab.addrs {
		out = append(out, p)
	}
	return out
}

// gc 清理所有过期地址，返回清理数量
func (ab *addrBook) gc() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	now := ab.clk.Now()
	removed := 0
	for p, m := range ab.addrs {
		for key, ea := range m {
			if ea.expiredAt(now) {
				delete(m, key)
				removed++
			}
		}
		if len(m) == 0 {
			delete(ab.addrs, p)
		}
	}
	return removed
}
