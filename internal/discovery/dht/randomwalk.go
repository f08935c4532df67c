package dht

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// RandomWalk 周期性查找随机节点以刷新路由表
type RandomWalk struct {
	dht *KadDHT

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newRandomWalk(d *KadDHT) *RandomWalk {
	return &RandomWalk{dht: d}
}

// Start 启动随机游走，零值字段使用默认配置
func (rw *RandomWalk) Start(cfg RandomWalkConfig) error {
	def := DefaultRandomWalkConfig()
	if cfg.Queries <= 0 {
		cfg.Queries = def.Queries
	}
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.running {
		return ErrAlreadyStarted
	}
	rw.running = true
	rw.stopCh = make(chan struct{})

	timer := rw.dht.cfg.Clock.Timer(cfg.Delay)
	rw.wg.Add(1)
	go rw.loop(cfg, timer, rw.stopCh)

	logger.Debug("随机游走已启动", "queries", cfg.Queries, "period", cfg.Period, "timeout", cfg.Timeout)
	return nil
}

// Stop 停止随机游走（幂等）
func (rw *RandomWalk) Stop() {
	rw.mu.Lock()
	if rw.running {
		rw.running = false
		close(rw.stopCh)
	}
	rw.mu.Unlock()
	rw.wg.Wait()
}

func (rw *RandomWalk) loop(cfg RandomWalkConfig, timer *clock.Timer, stopCh <-chan struct{}) {
	defer rw.wg.Done()
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
			rw.walk(stopCh, cfg)
			timer.Reset(cfg.Period)
		}
	}
}

// walk 执行一轮随机查找
func (rw *RandomWalk) walk(stopCh <-chan struct{}, cfg RandomWalkConfig) {
	ctx, cancel := context.WithCancel(rw.dht.ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for i := 0; i < cfg.Queries; i++ {
		if ctx.Err() != nil {
			return
		}
		qctx, qcancel := context.WithTimeout(ctx, cfg.Timeout)
		err := rw.Walk(qctx)
		qcancel()
		switch {
		case err == nil:
		case errors.Is(err, ErrLookupFailure):
			logger.Debug("路由表为空，跳过随机游走")
			return
		default:
			logger.Warn("随机游走查询失败", "error", err)
		}
	}
}

// Walk 查找一个随机 ID
//
// 随机 ID 几乎不可能存在，ErrNotFound 视为成功。
func (rw *RandomWalk) Walk(ctx context.Context) error {
	id, err := randomPeerID()
	if err != nil {
		return err
	}
	rw.dht.metrics.RandomWalkRuns.Inc()

	_, err = rw.dht.FindPeer(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		logger.Debug("随机游走完成", "target", id.ShortString(), "routingTable", rw.dht.routingTable.Size())
		return nil
	}
	rw.dht.metrics.RandomWalkFailures.Inc()
	return err
}

// randomPeerID 生成随机节点 ID
func randomPeerID() (types.PeerID, error) {
	digest := make([]byte, 32)
	if _, err := rand.Read(digest); err != nil {
		return "", err
	}
	return types.PeerIDFromDigest(digest)
}
