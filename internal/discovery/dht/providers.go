package dht

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	base32 "github.com/multiformats/go-base32"
	"github.com/multiformats/go-varint"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-kaddht/internal/core/storage/engine"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ProvidersKeyPrefix Provider 记录在数据存储中的键前缀
const ProvidersKeyPrefix = "/providers/"

// providerSet 单个内容键的 Provider 集合
type providerSet struct {
	providers map[types.PeerID]time.Time
}

func newProviderSet() *providerSet {
	return &providerSet{providers: make(map[types.PeerID]time.Time)}
}

// ============================================================================
//                              Providers
// ============================================================================

// Providers Provider 注册表
//
// 数据存储中的记录是权威来源，LRU 缓存只加速读取。缓存未命中时的加载由
// singleflight 合并，同一内容键的并发调用只触发一次数据存储读取。
//
// 写入、加载与清理删除由 writeMu 串行化：缓存只在数据存储写成功后更新，
// 清理在删除前重新读取时间戳，不会删掉并发刷新的记录。
type Providers struct {
	ds    interfaces.Datastore
	cfg   ProvidersConfig
	clk   clock.Clock
	cache *lru.Cache[string, *providerSet]
	loads singleflight.Group

	// mu 保护 providerSet 内容
	mu sync.Mutex

	// writeMu 串行化数据存储写入、集合加载与清理删除
	writeMu sync.Mutex

	lifeMu  sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// onLoad 数据存储加载回调（指标）
	onLoad func()
}

// NewProviders 创建 Provider 注册表
func NewProviders(ds interfaces.Datastore, cfg ProvidersConfig, clk clock.Clock) (*Providers, error) {
	if cfg.LRUCacheSize <= 0 {
		cfg.LRUCacheSize = DefaultProvidersConfig().LRUCacheSize
	}
	if clk == nil {
		clk = clock.New()
	}
	cache, err := lru.New[string, *providerSet](cfg.LRUCacheSize)
	if err != nil {
		return nil, err
	}
	return &Providers{
		ds:    ds,
		cfg:   cfg,
		clk:   clk,
		cache: cache,
	}, nil
}

// Start 启动过期清理定时器
func (pm *Providers) Start() {
	pm.lifeMu.Lock()
	defer pm.lifeMu.Unlock()

	if pm.started {
		return
	}
	pm.started = true
	pm.stopCh = make(chan struct{})

	ticker := pm.clk.Ticker(pm.cfg.CleanupInterval)
	pm.wg.Add(1)
	go pm.cleanupLoop(ticker, pm.stopCh)
}

// Stop 停止清理定时器（幂等）
func (pm *Providers) Stop() {
	pm.lifeMu.Lock()
	if pm.started {
		pm.started = false
		close(pm.stopCh)
	}
	pm.lifeMu.Unlock()
	pm.wg.Wait()
}

func (pm *Providers) cleanupLoop(ticker *clock.Ticker, stopCh <-chan struct{}) {
	defer pm.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := pm.cleanup(context.Background()); err != nil {
				logger.Warn("Provider 过期清理失败", "error", err)
			}
		}
	}
}

// AddProvider 记录 p 为 cid 的 Provider
func (pm *Providers) AddProvider(ctx context.Context, cid []byte, p types.PeerID) error {
	if _, err := pm.getProviderSet(ctx, cid); err != nil {
		return err
	}

	pm.writeMu.Lock()
	defer pm.writeMu.Unlock()

	now := pm.clk.Now()
	if err := pm.ds.Put(ctx, providerKey(cid, p), encodeTime(now)); err != nil {
		return err
	}

	// 集合可能已被清理移出缓存，此时下次加载会读到刚写入的记录
	if set, ok := pm.cache.Peek(string(cid)); ok {
		pm.mu.Lock()
		set.providers[p] = now
		pm.mu.Unlock()
	}
	return nil
}

// GetProviders 返回 cid 的全部 Provider（读取时不做过期过滤）
func (pm *Providers) GetProviders(ctx context.Context, cid []byte) ([]types.PeerID, error) {
	set, err := pm.getProviderSet(ctx, cid)
	if err != nil {
		return nil, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	peers := make([]types.PeerID, 0, len(set.providers))
	for p := range set.providers {
		peers = append(peers, p)
	}
	return peers, nil
}

// getProviderSet 缓存优先，未命中时合并加载
func (pm *Providers) getProviderSet(ctx context.Context, cid []byte) (*providerSet, error) {
	k := string(cid)
	if set, ok := pm.cache.Get(k); ok {
		return set, nil
	}

	v, err, _ := pm.loads.Do(k, func() (any, error) {
		// 等待期间可能已有加载完成
		if set, ok := pm.cache.Get(k); ok {
			return set, nil
		}
		pm.writeMu.Lock()
		defer pm.writeMu.Unlock()

		set, err := pm.loadProviderSet(ctx, cid)
		if err != nil {
			return nil, err
		}
		pm.cache.Add(k, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*providerSet), nil
}

// loadProviderSet 从数据存储读取 cid 的 Provider 集合
func (pm *Providers) loadProviderSet(ctx context.Context, cid []byte) (*providerSet, error) {
	if pm.onLoad != nil {
		pm.onLoad()
	}

	res, err := pm.ds.Query(ctx, interfaces.Query{Prefix: providerPrefix(cid)})
	if err != nil {
		return nil, err
	}
	defer res.Close()

	set := newProviderSet()
	for {
		e, ok := res.Next()
		if !ok {
			break
		}
		_, p, err := parseProviderKey(e.Key)
		if err != nil {
			logger.Debug("跳过无效 Provider 键", "key", e.Key, "error", err)
			continue
		}
		t, err := decodeTime(e.Value)
		if err != nil {
			logger.Debug("跳过无效 Provider 时间戳", "key", e.Key, "error", err)
			continue
		}
		set.providers[p] = t
	}
	return set, res.Err()
}

// cleanup 删除过期 Provider 记录
func (pm *Providers) cleanup(ctx context.Context) error {
	res, err := pm.ds.Query(ctx, interfaces.Query{Prefix: ProvidersKeyPrefix})
	if err != nil {
		return err
	}

	now := pm.clk.Now()
	expired := make(map[string][]types.PeerID)
	var keys []string
	for {
		e, ok := res.Next()
		if !ok {
			break
		}
		cid, p, err := parseProviderKey(e.Key)
		if err != nil {
			keys = append(keys, e.Key)
			continue
		}
		t, err := decodeTime(e.Value)
		if err != nil || now.Sub(t) > pm.cfg.ProvideValidity {
			keys = append(keys, e.Key)
			expired[string(cid)] = append(expired[string(cid)], p)
		}
	}
	if err := res.Err(); err != nil {
		res.Close()
		return err
	}
	res.Close()

	if len(keys) == 0 {
		return nil
	}

	pm.writeMu.Lock()
	defer pm.writeMu.Unlock()

	// 扫描后可能有并发刷新，删除前以当前存储值为准
	stale := keys[:0]
	for _, k := range keys {
		v, err := pm.ds.Get(ctx, k)
		switch {
		case engine.IsNotFound(err):
			continue
		case err != nil:
			return err
		}
		if t, err := decodeTime(v); err == nil && now.Sub(t) <= pm.cfg.ProvideValidity {
			continue
		}
		stale = append(stale, k)
	}
	if len(stale) == 0 {
		return nil
	}

	batch, err := pm.ds.Batch(ctx)
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := batch.Delete(ctx, k); err != nil {
			return err
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return err
	}

	pm.mu.Lock()
	for cid, peers := range expired {
		set, ok := pm.cache.Peek(cid)
		if !ok {
			continue
		}
		for _, p := range peers {
			if t, ok := set.providers[p]; ok && now.Sub(t) > pm.cfg.ProvideValidity {
				delete(set.providers, p)
			}
		}
		if len(set.providers) == 0 {
			pm.cache.Remove(cid)
		}
	}
	pm.mu.Unlock()

	logger.Debug("Provider 过期清理完成", "deleted", len(stale), "keys", len(expired))
	return nil
}

// ============================================================================
//                              键与值编码
// ============================================================================

func providerPrefix(cid []byte) string {
	return ProvidersKeyPrefix + base32.RawStdEncoding.EncodeToString(cid) + "/"
}

func providerKey(cid []byte, p types.PeerID) string {
	return providerPrefix(cid) + base32.RawStdEncoding.EncodeToString([]byte(p))
}

func parseProviderKey(key string) ([]byte, types.PeerID, error) {
	rest := strings.TrimPrefix(key, ProvidersKeyPrefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || rest == key {
		return nil, "", fmt.Errorf("malformed provider key %q", key)
	}
	cid, err := base32.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, "", err
	}
	raw, err := base32.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, "", err
	}
	p, err := types.PeerIDFromBytes(raw)
	if err != nil {
		return nil, "", err
	}
	return cid, p, nil
}

func encodeTime(t time.Time) []byte {
	return varint.ToUvarint(uint64(t.UnixMilli()))
}

func decodeTime(b []byte) (time.Time, error) {
	ms, n, err := varint.FromUvarint(b)
	if err != nil {
		return time.Time{}, err
	}
	if n != len(b) {
		return time.Time{}, errors.New("trailing bytes after timestamp")
	}
	return time.UnixMilli(int64(ms)), nil
}
