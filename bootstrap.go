package kaddht

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"

	"github.com/dep2p/go-kaddht/internal/core/host"
	"github.com/dep2p/go-kaddht/internal/core/peerstore"
	"github.com/dep2p/go-kaddht/internal/discovery/dht"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// 引导重试参数
const (
	bootstrapInitialInterval = 200 * time.Millisecond
	bootstrapMaxInterval     = 10 * time.Second
)

// Bootstrap 连接引导节点并刷新路由表
//
// 流程：
//  1. 并发连接所有引导节点，单个节点按指数退避重试
//  2. 至少一个连接成功后，查找自身以填充路由表
//
// 未配置引导节点时只执行第 2 步。
func (n *Node) Bootstrap(ctx context.Context) error {
	if err := n.checkRunning(); err != nil {
		return err
	}

	if len(n.cfg.Network.Bootstrap) > 0 {
		if err := n.connectBootstrapPeers(ctx); err != nil {
			return err
		}
	}

	if err := n.dht.Bootstrap(ctx); err != nil {
		if errors.Is(err, dht.ErrLookupFailure) && len(n.cfg.Network.Bootstrap) == 0 {
			return ErrNoBootstrapPeers
		}
		return fmt.Errorf("dht bootstrap: %w", err)
	}
	logger.Info("引导完成", "routingTable", n.dht.RoutingTable().Size())
	return nil
}

// connectBootstrapPeers 并发连接引导节点，要求至少一个成功
func (n *Node) connectBootstrapPeers(ctx context.Context) error {
	peers, err := parseBootstrapPeers(n.cfg.Network.Bootstrap)
	if err != nil {
		return err
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		errs      error
		connected int
	)
	startTime := time.Now()

	for _, pi := range peers {
		if pi.ID == n.host.ID() {
			continue
		}
		// 引导节点地址永久保留
		n.peerstore.AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)

		wg.Add(1)
		go func(pi types.PeerInfo) {
			defer wg.Done()
			err := n.connectWithBackoff(ctx, pi)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", pi.ID.ShortString(), err))
				return
			}
			// 引导节点视为 DHT 服务节点，不等待协议探测
			n.dht.RoutingTable().Add(pi.ID)
			connected++
		}(pi)
	}
	wg.Wait()

	logger.Info("引导连接完成",
		"connected", connected,
		"total", len(peers),
		"duration", time.Since(startTime))

	if connected == 0 {
		if errs == nil {
			return ErrNoBootstrapPeers
		}
		return fmt.Errorf("%w: %v", ErrAllBootstrapFailed, errs)
	}
	return nil
}

// connectWithBackoff 按指数退避连接单个引导节点
func (n *Node) connectWithBackoff(ctx context.Context, pi types.PeerInfo) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = bootstrapInitialInterval
	b.MaxInterval = bootstrapMaxInterval
	b.MaxElapsedTime = n.cfg.Network.BootstrapMaxElapsed.Duration()

	peerIDShort := log.TruncateID(pi.ID.String(), 8)
	dialTimeout := n.cfg.Network.DialTimeout.Duration()

	return backoff.RetryNotify(func() error {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		err := n.host.Connect(dialCtx, pi)
		switch {
		case err == nil:
			logger.Info("引导节点连接成功", "peerID", peerIDShort)
			return nil
		case errors.Is(err, host.ErrDialSelf), errors.Is(err, host.ErrPeerIDMismatch), errors.Is(err, host.ErrHostClosed):
			return backoff.Permanent(err)
		default:
			return err
		}
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		logger.Debug("引导节点连接失败，稍后重试", "peerID", peerIDShort, "error", err, "retryIn", d)
	})
}

// parseBootstrapPeers 解析引导地址，同一节点的多个地址合并
func parseBootstrapPeers(addrs []string) ([]types.PeerInfo, error) {
	index := make(map[types.PeerID]int, len(addrs))
	peers := make([]types.PeerInfo, 0, len(addrs))
	for _, s := range addrs {
		pi, err := types.ParsePeerAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap address %q: %w", s, err)
		}
		if i, ok := index[pi.ID]; ok {
			peers[i].Addrs = append(peers[i].Addrs, pi.Addrs...)
			continue
		}
		index[pi.ID] = len(peers)
		peers = append(peers, pi)
	}
	return peers, nil
}
