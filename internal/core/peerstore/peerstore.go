package peerstore

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
	"github.com/dep2p/go-kaddht/pkg/types"
)

var logger = log.Logger("core/peerstore")

// gcInterval 过期地址清理间隔
const gcInterval = time.Minute

// Peerstore 节点信息存储
type Peerstore struct {
	*addrBook
	*keyBook

	clk    clock.Clock
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ interfaces.Peerstore = (*Peerstore)(nil)

// Option 配置选项
type Option func(*Peerstore)

// WithClock 设置时间来源
func WithClock(clk clock.Clock) Option {
	return func(ps *Peerstore) {
		ps.clk = clk
	}
}

// New 创建 Peerstore 并启动后台清理
func New(opts ...Option) *Peerstore {
	ps := &Peerstore{clk: clock.New()}
	for _, opt := range opts {
		opt(ps)
	}
	ps.addrBook = newAddrBook(ps.clk)
	ps.keyBook = newKeyBook()
	ps.ctx, ps.cancel = context.WithCancel(context.Background())

	ticker := ps.clk.Ticker(gcInterval)
	ps.wg.Add(1)
	go ps.gcLoop(ticker)
	return ps
}

// PeerInfo 返回节点的 ID 与有效地址
func (ps *Peerstore) PeerInfo(p types.PeerID) types.PeerInfo {
	return types.NewPeerInfo(p, ps.Addrs(p))
}

// Peers 返回所有已知节点（有地址或公钥）
func (ps *Peerstore) Peers() []types.PeerID {
	seen := make(map[types.PeerID]struct{})
	var out []types.PeerID
	for _, list := range [][]types.PeerID{ps.peersWithAddrs(), ps.peersWithKeys()} {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Close 停止后台清理
func (ps *Peerstore) Close() error {
	ps.once.Do(func() {
		ps.cancel()
		ps.wg.Wait()
	})
	return nil
}

func (ps *Peerstore) gcLoop(ticker *clock.Ticker) {
	defer ps.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ps.ctx.Done():
			return
		case <-ticker.C:
			if n := ps.gc(); n > 0 {
				logger.Debug("清理过期地址", "count", n)
			}
		}
	}
}
