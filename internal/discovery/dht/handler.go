package dht

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/msgio"
	"github.com/dep2p/go-kaddht/pkg/types"
)

const (
	// streamIdleTimeout 入站流空闲超时
	streamIdleTimeout = time.Minute

	// limiterCacheSize 保留速率限制器的节点数
	limiterCacheSize = 1024
)

// ============================================================================
//                              速率限制
// ============================================================================

// rateLimiters 按节点的入站速率限制
type rateLimiters struct {
	limit rate.Limit
	burst int
	cache *lru.Cache[types.PeerID, *rate.Limiter]
}

func newRateLimiters(perSecond float64, burst int) *rateLimiters {
	cache, _ := lru.New[types.PeerID, *rate.Limiter](limiterCacheSize)
	return &rateLimiters{
		limit: rate.Limit(perSecond),
		burst: burst,
		cache: cache,
	}
}

// Allow 检查节点请求是否允许
func (rl *rateLimiters) Allow(p types.PeerID) bool {
	l, ok := rl.cache.Get(p)
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		if prev, found, _ := rl.cache.PeekOrAdd(p, l); found {
			l = prev
		}
	}
	return l.Allow()
}

// ============================================================================
//                              请求分发
// ============================================================================

// handleNewStream 处理入站 DHT 流
//
// 一个流上可以有多帧请求，每帧至多一帧响应。超长帧、无法解码的帧和
// 未知类型都只丢弃当前帧，不关闭流。
func (d *KadDHT) handleNewStream(s interfaces.Stream) {
	defer s.Close()

	remote := s.RemotePeer()
	r := msgio.NewReader(s, d.cfg.MaxMessageSize)

	for {
		_ = s.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		data, err := r.ReadMsg()
		if err != nil {
			if errors.Is(err, msgio.ErrMsgTooLarge) {
				logger.Debug("丢弃超长帧", "peer", remote.ShortString(), "error", err)
				d.metrics.droppedFrame("too_large")
				continue
			}
			if !errors.Is(err, io.EOF) {
				logger.Debug("读取入站帧失败", "peer", remote.ShortString(), "error", err)
			}
			return
		}

		if !d.limiters.Allow(remote) {
			logger.Debug("入站请求超过速率限制", "peer", remote.ShortString())
			d.metrics.droppedFrame("rate_limited")
			continue
		}

		req, err := UnmarshalMessage(data)
		if err != nil {
			logger.Debug("解码入站消息失败", "peer", remote.ShortString(), "error", err)
			d.metrics.droppedFrame("decode")
			continue
		}

		d.routingTable.Add(remote)

		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.ReadMessageTimeout)
		resp, err := d.handleMessage(ctx, remote, req)
		cancel()
		d.metrics.inboundRequest(req.Type, err)
		if err != nil {
			logger.Debug("处理入站消息失败", "peer", remote.ShortString(), "type", req.Type, "error", err)
			continue
		}
		if resp == nil {
			continue
		}

		_ = s.SetWriteDeadline(time.Now().Add(d.cfg.ReadMessageTimeout))
		if err := msgio.WriteMsg(s, resp.Marshal()); err != nil {
			logger.Debug("写入响应失败", "peer", remote.ShortString(), "error", err)
			return
		}
	}
}

// handleMessage 按消息类型分发
func (d *KadDHT) handleMessage(ctx context.Context, remote types.PeerID, msg *Message) (*Message, error) {
	switch msg.Type {
	case MessageFindNode:
		return d.handleFindNode(ctx, remote, msg)
	case MessagePutValue:
		return d.handlePutValue(ctx, remote, msg)
	case MessageGetValue:
		return d.handleGetValue(ctx, remote, msg)
	case MessageGetProviders:
		return d.handleGetProviders(ctx, remote, msg)
	case MessageAddProvider:
		return d.handleAddProvider(ctx, remote, msg)
	case MessagePing:
		return d.handlePing(ctx, remote, msg)
	default:
		logger.Warn("未知的 DHT 消息类型", "peer", remote.ShortString(), "type", msg.Type)
		return nil, fmt.Errorf("%w: unknown message type %s", ErrInvalidMessage, msg.Type)
	}
}
