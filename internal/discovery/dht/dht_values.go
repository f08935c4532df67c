package dht

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-kaddht/internal/core/storage/engine"
	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ReceivedValue 查询过程中收到的一份记录
type ReceivedValue struct {
	// From 提供记录的节点（本地记录为本节点）
	From types.PeerID

	// Record 收到的记录
	Record *Record

	// Err 记录校验失败的原因
	Err error
}

// ============================================================================
//                              本地记录
// ============================================================================

// verifyRecordLocally 仅使用本地地址簿中的公钥校验记录
func (d *KadDHT) verifyRecordLocally(rec *Record) error {
	return d.validators.VerifyRecord(rec, d.peerstore.PubKey)
}

// verifyRecordOnline 校验记录，作者公钥未知时从网络获取
func (d *KadDHT) verifyRecordOnline(ctx context.Context, rec *Record) error {
	return d.validators.VerifyRecord(rec, func(p types.PeerID) crypto.PublicKey {
		if pub := d.peerstore.PubKey(p); pub != nil {
			return pub
		}
		pub, err := d.GetPublicKey(ctx, p)
		if err != nil {
			logger.Debug("获取记录作者公钥失败", "author", p.ShortString(), "error", err)
			return nil
		}
		return pub
	})
}

// getLocalRecord 读取本地记录
//
// 记录不存在返回 nil, nil。过期或校验失败的记录被删除，同样返回 nil。
func (d *KadDHT) getLocalRecord(ctx context.Context, key []byte) (*Record, error) {
	dsKey := recordDatastoreKey(key)
	data, err := d.ds.Get(ctx, dsKey)
	if engine.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec, err := UnmarshalRecord(data)
	if err != nil {
		logger.Debug("删除无法解码的本地记录", "key", string(key), "error", err)
		return nil, d.ds.Delete(ctx, dsKey)
	}

	if rec.TimeReceived != "" {
		received, err := time.Parse(time.RFC3339Nano, rec.TimeReceived)
		if err == nil && d.cfg.Clock.Since(received) > d.cfg.MaxRecordAge {
			logger.Debug("删除过期本地记录", "key", string(key), "received", rec.TimeReceived)
			return nil, d.ds.Delete(ctx, dsKey)
		}
	}

	if !bytes.Equal(rec.Key, key) {
		logger.Debug("删除键不匹配的本地记录", "key", string(key))
		return nil, d.ds.Delete(ctx, dsKey)
	}
	if err := d.verifyRecordLocally(rec); err != nil {
		logger.Debug("删除无效本地记录", "key", string(key), "error", err)
		return nil, d.ds.Delete(ctx, dsKey)
	}
	return rec, nil
}

// putLocalRecord 写入本地记录
func (d *KadDHT) putLocalRecord(ctx context.Context, rec *Record) error {
	return d.ds.Put(ctx, recordDatastoreKey(rec.Key), rec.Marshal())
}

// ============================================================================
//                              Put
// ============================================================================

// Put 存储键值
//
// 记录先写入本地，再发送给距离 key 最近的 K 个节点。单个节点的写入失败只记录日志。
// 路由表为空时只写本地。
func (d *KadDHT) Put(ctx context.Context, key string, value []byte) (err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "Put", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	defer func() { d.metrics.operation("put", err) }()

	rec := MakeRecord(key, value)
	if d.validators.IsSigned(key) {
		if d.cfg.PrivateKey == nil {
			return NewDHTError("put", ErrInvalidConfig, "namespace requires signed records but no private key is configured")
		}
		if err := SignRecord(rec, d.cfg.PrivateKey); err != nil {
			return err
		}
	}
	if err := d.verifyRecordLocally(rec); err != nil {
		return err
	}

	stored := *rec
	stored.TimeReceived = d.cfg.Clock.Now().UTC().Format(time.RFC3339Nano)
	if err := d.putLocalRecord(ctx, &stored); err != nil {
		return err
	}

	peers, err := d.GetClosestPeers(ctx, []byte(key))
	if errors.Is(err, ErrLookupFailure) {
		logger.Debug("路由表为空，记录仅保存在本地", "key", key)
		return nil
	}
	if err != nil {
		return err
	}

	d.putValueToPeers(ctx, peers, rec)
	return nil
}

// putValueToPeers 并发发送 PUT_VALUE，返回成功数
func (d *KadDHT) putValueToPeers(ctx context.Context, peers []types.PeerID, rec *Record) int {
	var (
		g     errgroup.Group
		mu    sync.Mutex
		count int
	)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			msg := NewMessage(MessagePutValue, rec.Key, 0)
			msg.Record = rec
			resp, err := d.sendRequest(ctx, p, msg)
			if err == nil && (resp.Record == nil || !bytes.Equal(resp.Record.Value, rec.Value)) {
				err = fmt.Errorf("%w: peer did not store value", ErrInvalidRecord)
			}
			if err != nil {
				logger.Debug("PUT_VALUE 失败", "peer", p.ShortString(), "key", string(rec.Key), "error", err)
				return nil
			}
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logger.Debug("记录已发布", "key", string(rec.Key), "peers", len(peers), "stored", count)
	return count
}

// ============================================================================
//                              Get
// ============================================================================

// Get 返回 key 的最优值
//
// 收集最多 GetManyValues 份记录，由选择器挑选最优值；持有其他值的节点会收到修正。
func (d *KadDHT) Get(ctx context.Context, key string) (val []byte, err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	defer func() { d.metrics.operation("get", err) }()

	vals, err := d.GetMany(ctx, key, GetManyValues)
	if err != nil {
		return nil, err
	}

	var recs []*Record
	for _, v := range vals {
		if v.Err == nil && v.Record != nil {
			recs = append(recs, v.Record)
		}
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no valid record for %s", ErrNotFound, key)
	}

	i, err := d.selectors.BestRecord(key, recs)
	if err != nil {
		return nil, err
	}
	best := recs[i]

	d.sendCorrections(vals, best)
	return best.Value, nil
}

// sendCorrections 向持有过时值的节点异步发送最优记录
func (d *KadDHT) sendCorrections(vals []ReceivedValue, best *Record) {
	for _, v := range vals {
		if v.Record == nil || v.From == d.self || bytes.Equal(v.Record.Value, best.Value) {
			continue
		}
		p := v.From
		go func() {
			ctx, cancel := context.WithTimeout(d.ctx, d.cfg.ReadMessageTimeout)
			defer cancel()
			msg := NewMessage(MessagePutValue, best.Key, 0)
			msg.Record = best
			if _, err := d.sendRequest(ctx, p, msg); err != nil {
				logger.Debug("发送记录修正失败", "peer", p.ShortString(), "error", err)
			}
		}()
	}
}

// GetMany 收集最多 nvals 份 key 的记录
//
// 无效记录以带 Err 的形式返回，不中断查询。已收集到值时，超时或全部节点失败
// 都返回已有结果。
func (d *KadDHT) GetMany(ctx context.Context, key string, nvals int) (_ []ReceivedValue, err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "GetMany", trace.WithAttributes(
		attribute.String("key", key),
		attribute.Int("nvals", nvals),
	))
	defer span.End()

	var (
		mu   sync.Mutex
		vals []ReceivedValue
	)

	if rec, err := d.localValue(ctx, key); err != nil {
		return nil, err
	} else if rec != nil {
		vals = append(vals, ReceivedValue{From: d.self, Record: rec})
	}
	if nvals <= 0 || len(vals) >= nvals {
		return vals, nil
	}

	seeds := d.routingTable.ClosestPeers(ConvertKey([]byte(key)), d.cfg.Alpha)
	if len(seeds) == 0 {
		if len(vals) > 0 {
			return vals, nil
		}
		return nil, fmt.Errorf("%w: no peers to query for %s", ErrLookupFailure, key)
	}

	q := d.newQuery([]byte(key), func(ctx context.Context, p types.PeerID) (*QueryResult, error) {
		resp, err := d.sendRequest(ctx, p, NewMessage(MessageGetValue, []byte(key), 0))
		if err != nil {
			return nil, err
		}
		res := &QueryResult{CloserPeers: d.closerPeersFrom(resp)}

		if rec := resp.Record; rec != nil {
			var verr error
			if !bytes.Equal(rec.Key, []byte(key)) {
				verr = fmt.Errorf("%w: record key does not match", ErrInvalidRecord)
			} else {
				verr = d.verifyRecordOnline(ctx, rec)
			}
			if verr != nil {
				logger.Debug("收到无效记录", "peer", p.ShortString(), "key", key, "error", verr)
			}

			mu.Lock()
			vals = append(vals, ReceivedValue{From: p, Record: rec, Err: verr})
			enough := len(vals) >= nvals
			mu.Unlock()

			res.Record = rec
			res.Success = enough
		}
		return res, nil
	})

	_, err = q.Run(ctx, seeds)

	mu.Lock()
	defer mu.Unlock()
	out := make([]ReceivedValue, len(vals))
	copy(out, vals)

	if len(out) > 0 {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// localValue 返回本地持有的记录，公钥键由地址簿提供
func (d *KadDHT) localValue(ctx context.Context, key string) (*Record, error) {
	if p, ok := parsePublicKeyKey(key); ok {
		if rec := d.publicKeyRecord(p); rec != nil {
			return rec, nil
		}
	}
	return d.getLocalRecord(ctx, []byte(key))
}

// ============================================================================
//                              公钥
// ============================================================================

// GetPublicKey 获取节点公钥
//
// 依次尝试本地地址簿、直接向节点请求、在 DHT 中查找 /pk/ 记录。
// 取得的公钥必须与节点 ID 匹配，并写入地址簿。
func (d *KadDHT) GetPublicKey(ctx context.Context, p types.PeerID) (_ crypto.PublicKey, err error) {
	if pub := d.peerstore.PubKey(p); pub != nil {
		return pub, nil
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	defer func() { d.metrics.operation("get_public_key", err) }()

	pub, err := d.getPublicKeyFromNode(ctx, p)
	if err != nil {
		logger.Debug("直接获取公钥失败，转为 DHT 查找", "peer", p.ShortString(), "error", err)

		val, gerr := d.Get(ctx, PublicKeyKey(p))
		if gerr != nil {
			return nil, gerr
		}
		pub, err = d.decodePublicKey(p, val)
		if err != nil {
			return nil, err
		}
	}

	if err := d.peerstore.AddPubKey(p, pub); err != nil {
		return nil, err
	}
	return pub, nil
}

// getPublicKeyFromNode 直接向节点请求其公钥
func (d *KadDHT) getPublicKeyFromNode(ctx context.Context, p types.PeerID) (crypto.PublicKey, error) {
	key := []byte(PublicKeyKey(p))
	resp, err := d.sendRequest(ctx, p, NewMessage(MessageGetValue, key, 0))
	if err != nil {
		return nil, err
	}
	if resp.Record == nil || !bytes.Equal(resp.Record.Key, key) {
		return nil, fmt.Errorf("%w: public key of %s", ErrNotFound, p.ShortString())
	}
	return d.decodePublicKey(p, resp.Record.Value)
}

// decodePublicKey 解码公钥并检查与节点 ID 匹配
func (d *KadDHT) decodePublicKey(p types.PeerID, raw []byte) (crypto.PublicKey, error) {
	pub, err := crypto.UnmarshalPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	ok, err := crypto.VerifyPeerID(pub, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: public key does not match %s", ErrInvalidRecord, p.ShortString())
	}
	return pub, nil
}
