package dht

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dep2p/go-kaddht/internal/core/peerstore"
	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              FIND_NODE
// ============================================================================

func (d *KadDHT) handleFindNode(_ context.Context, remote types.PeerID, msg *Message) (*Message, error) {
	resp := NewMessage(MessageFindNode, msg.Key, msg.ClusterLevel())

	if types.PeerID(msg.Key) == d.self {
		resp.CloserPeers = []PeerMessage{d.selfPeerMessage()}
		return resp, nil
	}

	closer := d.betterPeersToQuery(msg.Key, remote, d.cfg.BucketSize)
	resp.CloserPeers = peerInfosToMessages(closer, d.host.IsConnected)
	return resp, nil
}

// ============================================================================
//                              PUT_VALUE
// ============================================================================

func (d *KadDHT) handlePutValue(ctx context.Context, remote types.PeerID, msg *Message) (*Message, error) {
	rec := msg.Record
	if rec == nil {
		return nil, fmt.Errorf("%w: missing record", ErrInvalidRecord)
	}
	if !bytes.Equal(rec.Key, msg.Key) {
		return nil, fmt.Errorf("%w: record key does not match message key", ErrInvalidRecord)
	}
	if err := d.verifyRecordLocally(rec); err != nil {
		logger.Debug("拒绝无效记录", "peer", remote.ShortString(), "key", string(rec.Key), "error", err)
		return nil, err
	}

	// 注册了选择器的命名空间，本地已有更优记录时保留旧记录
	if d.selectors.Has(string(rec.Key)) && d.hasBetterLocalRecord(ctx, rec) {
		logger.Debug("保留本地更优记录", "key", string(rec.Key))
		return msg, nil
	}

	stored := *rec
	stored.TimeReceived = d.cfg.Clock.Now().UTC().Format(time.RFC3339Nano)
	if err := d.putLocalRecord(ctx, &stored); err != nil {
		return nil, err
	}
	return msg, nil
}

// hasBetterLocalRecord 检查本地记录是否优于 rec
func (d *KadDHT) hasBetterLocalRecord(ctx context.Context, rec *Record) bool {
	existing, err := d.getLocalRecord(ctx, rec.Key)
	if err != nil || existing == nil || bytes.Equal(existing.Value, rec.Value) {
		return false
	}
	best, err := d.selectors.BestRecord(string(rec.Key), []*Record{existing, rec})
	return err == nil && best == 0
}

// ============================================================================
//                              GET_VALUE
// ============================================================================

func (d *KadDHT) handleGetValue(ctx context.Context, remote types.PeerID, msg *Message) (*Message, error) {
	if len(msg.Key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidMessage)
	}
	resp := NewMessage(MessageGetValue, msg.Key, msg.ClusterLevel())

	if p, ok := parsePublicKeyKey(string(msg.Key)); ok {
		if rec := d.publicKeyRecord(p); rec != nil {
			resp.Record = rec
		}
	} else {
		rec, err := d.getLocalRecord(ctx, msg.Key)
		if err != nil {
			return nil, err
		}
		resp.Record = rec
	}

	closer := d.betterPeersToQuery(msg.Key, remote, d.cfg.BucketSize)
	resp.CloserPeers = peerInfosToMessages(closer, d.host.IsConnected)
	return resp, nil
}

// publicKeyRecord 返回本地已知的节点公钥记录
func (d *KadDHT) publicKeyRecord(p types.PeerID) *Record {
	// 本节点公钥由 Host 写入 Peerstore
	pub := d.peerstore.PubKey(p)
	if pub == nil {
		return nil
	}
	raw, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return nil
	}
	return &Record{Key: []byte(PublicKeyKey(p)), Value: raw}
}

// ============================================================================
//                              GET_PROVIDERS
// ============================================================================

func (d *KadDHT) handleGetProviders(ctx context.Context, remote types.PeerID, msg *Message) (*Message, error) {
	if len(msg.Key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidMessage)
	}
	resp := NewMessage(MessageGetProviders, msg.Key, msg.ClusterLevel())

	provs, err := d.providers.GetProviders(ctx, msg.Key)
	if err != nil {
		return nil, err
	}
	infos := make([]types.PeerInfo, 0, len(provs))
	for _, p := range provs {
		if p == d.self {
			infos = append(infos, types.NewPeerInfo(d.self, d.host.Addrs()))
			continue
		}
		infos = append(infos, d.peerstore.PeerInfo(p))
	}
	resp.ProviderPeers = peerInfosToMessages(infos, d.host.IsConnected)

	closer := d.betterPeersToQuery(msg.Key, remote, d.cfg.BucketSize)
	resp.CloserPeers = peerInfosToMessages(closer, d.host.IsConnected)
	return resp, nil
}

// ============================================================================
//                              ADD_PROVIDER
// ============================================================================

func (d *KadDHT) handleAddProvider(ctx context.Context, remote types.PeerID, msg *Message) (*Message, error) {
	if len(msg.Key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidMessage)
	}

	for _, pm := range msg.ProviderPeers {
		// 只接受发送方为自己声明的记录
		if pm.ID != remote {
			logger.Debug("忽略代他人声明的 Provider", "sender", remote.ShortString(), "provider", pm.ID.ShortString())
			continue
		}
		if len(pm.Addrs) > 0 {
			d.peerstore.AddAddrs(remote, pm.Addrs, peerstore.ProviderAddrTTL)
		}
		if err := d.providers.AddProvider(ctx, msg.Key, remote); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// ============================================================================
//                              PING
// ============================================================================

func (d *KadDHT) handlePing(_ context.Context, _ types.PeerID, msg *Message) (*Message, error) {
	return msg, nil
}

// ============================================================================
//                              辅助函数
// ============================================================================

// betterPeersToQuery 返回路由表中离 key 最近的节点，排除本节点与请求方
func (d *KadDHT) betterPeersToQuery(key []byte, remote types.PeerID, count int) []types.PeerInfo {
	closest := d.routingTable.ClosestPeers(ConvertKey(key), count+1)

	out := make([]types.PeerInfo, 0, len(closest))
	for _, p := range closest {
		if p == d.self || p == remote {
			continue
		}
		info := d.peerstore.PeerInfo(p)
		if !info.HasAddrs() {
			continue
		}
		out = append(out, info)
		if len(out) >= count {
			break
		}
	}
	return out
}

// selfPeerMessage 返回本节点的消息表示
func (d *KadDHT) selfPeerMessage() PeerMessage {
	return PeerMessage{ID: d.self, Addrs: d.host.Addrs(), Connection: Connected}
}
