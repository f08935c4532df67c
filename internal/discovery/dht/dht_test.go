package dht

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/pkg/types"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ============================================================================
// 创建与生命周期
// ============================================================================

// TestNew_Defaults 测试默认配置
func TestNew_Defaults(t *testing.T) {
	h, _ := newTestHost(t)
	d, err := New(h, nil)
	require.NoError(t, err)
	defer d.Close()

	cfg := d.Config()
	assert.Equal(t, 20, cfg.BucketSize)
	assert.Equal(t, 3, cfg.Alpha)
	assert.Equal(t, 6, cfg.NumClosestPeers)
	assert.Equal(t, time.Minute, cfg.MaxTimeout)
	assert.Equal(t, 10*time.Second, cfg.ReadMessageTimeout)
	assert.Equal(t, 256, cfg.Providers.LRUCacheSize)
	assert.Equal(t, 5*time.Minute, cfg.RandomWalk.Period)
	assert.Equal(t, 10*time.Second, cfg.RandomWalk.Timeout)
	assert.Equal(t, 1, cfg.RandomWalk.Queries)
	assert.True(t, d.ownsDS)
	assert.Equal(t, h.ID(), d.Self())
}

// TestNew_InvalidConfig 测试无效配置
func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilHost)

	h, _ := newTestHost(t)
	_, err = New(h, nil, WithBucketSize(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestKadDHT_StartStop 测试启动停止状态
func TestKadDHT_StartStop(t *testing.T) {
	ctx := context.Background()
	d := newTestDHT(t)

	assert.True(t, d.IsStarted())
	assert.ErrorIs(t, d.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, d.Stop(ctx))
	assert.ErrorIs(t, d.Stop(ctx), ErrNotStarted)
	require.NoError(t, d.Start(ctx))

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Start(ctx), ErrHostClosed)
}

// TestKadDHT_MetricsRegistered 测试指标注册
func TestKadDHT_MetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newTestDHT(t, WithRegisterer(reg))
	b := newTestDHT(t)
	connectDHTs(t, a, b)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["kaddht_dht_routing_table_size"])
}

// ============================================================================
// 值存取
// ============================================================================

// TestKadDHT_PutGet 测试写入后在其他节点读取
func TestKadDHT_PutGet(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 3)
	connectLine(t, dhts)

	key := testKey("hello")
	value := []byte("world")
	require.NoError(t, dhts[0].Put(ctx, key, value))

	for i, d := range dhts {
		got, err := d.Get(ctx, key)
		require.NoError(t, err, "node %d", i)
		assert.Equal(t, value, got, "node %d", i)
	}
	t.Log("✅ 所有节点都读取到相同的值")
}

// TestKadDHT_PutReplicates 测试记录复制到最近节点
func TestKadDHT_PutReplicates(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 3)
	connectLine(t, dhts)

	key := testKey("replicated")
	require.NoError(t, dhts[0].Put(ctx, key, []byte("v")))

	for _, d := range dhts[1:] {
		rec, err := d.getLocalRecord(ctx, []byte(key))
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, dhts[0].Self(), rec.Author)
	}
}

// TestKadDHT_PutLocalOnly 测试路由表为空时只写本地
func TestKadDHT_PutLocalOnly(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDHT(t)

	require.NoError(t, d.Put(ctx, testKey("alone"), []byte("v")))
	got, err := d.Get(ctx, testKey("alone"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

// TestKadDHT_PutRequiresKnownNamespace 测试未注册命名空间
func TestKadDHT_PutRequiresKnownNamespace(t *testing.T) {
	d := newTestDHT(t)
	err := d.Put(testCtx(t), "/unknown/k", []byte("v"))
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

// TestKadDHT_GetMissing 测试读取不存在的键
func TestKadDHT_GetMissing(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 3)
	connectLine(t, dhts)

	_, err := dhts[0].Get(ctx, testKey("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = newTestDHT(t).Get(ctx, testKey("missing"))
	assert.ErrorIs(t, err, ErrLookupFailure)
}

// TestKadDHT_GetManyCollectsPeers 测试收集多个节点的记录
func TestKadDHT_GetManyCollectsPeers(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 3)
	connectLine(t, dhts)

	key := testKey("many")
	require.NoError(t, dhts[0].Put(ctx, key, []byte("v")))

	vals, err := dhts[2].GetMany(ctx, key, 3)
	require.NoError(t, err)
	require.Len(t, vals, 3)
	from := make(map[types.PeerID]bool)
	for _, v := range vals {
		assert.NoError(t, v.Err)
		assert.Equal(t, []byte("v"), v.Record.Value)
		from[v.From] = true
	}
	assert.Len(t, from, 3)
}

// TestKadDHT_GetCorrectsOutdatedPeers 测试向持有旧值的节点发送修正
func TestKadDHT_GetCorrectsOutdatedPeers(t *testing.T) {
	ctx := testCtx(t)
	opts := []ConfigOption{WithValidator("num", Validator{}), WithSelector("num", SelectLargest)}
	a, b := newTestDHT(t, opts...), newTestDHT(t, opts...)
	connectDHTs(t, a, b)

	require.NoError(t, a.putLocalRecord(ctx, MakeRecord("/num/x", []byte("9"))))
	require.NoError(t, b.putLocalRecord(ctx, MakeRecord("/num/x", []byte("1"))))

	got, err := a.Get(ctx, "/num/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("9"), got)

	assert.Eventually(t, func() bool {
		rec, err := b.getLocalRecord(ctx, []byte("/num/x"))
		return err == nil && rec != nil && string(rec.Value) == "9"
	}, 5*time.Second, 20*time.Millisecond)
}

// ============================================================================
// 节点查找
// ============================================================================

// TestKadDHT_GetClosestPeers 测试返回按距离排序的节点
func TestKadDHT_GetClosestPeers(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 5)
	connectLine(t, dhts)

	key := []byte("closest-key")
	peers, err := dhts[0].GetClosestPeers(ctx, key)
	require.NoError(t, err)

	var others []types.PeerID
	for _, d := range dhts[1:] {
		others = append(others, d.Self())
	}
	assert.ElementsMatch(t, others, peers)
	assert.Equal(t, SortByDistance(append([]types.PeerID(nil), peers...), ConvertKey(key)), peers)
}

// TestKadDHT_GetClosestPeersLimitedToK 测试结果不超过 K
func TestKadDHT_GetClosestPeersLimitedToK(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 5, WithBucketSize(2))
	connectLine(t, dhts)

	peers, err := dhts[0].GetClosestPeers(ctx, []byte("k"))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(peers), 2)
}

// TestKadDHT_GetClosestPeersEmptyTable 测试路由表为空
func TestKadDHT_GetClosestPeersEmptyTable(t *testing.T) {
	_, err := newTestDHT(t).GetClosestPeers(testCtx(t), []byte("k"))
	assert.ErrorIs(t, err, ErrLookupFailure)
}

// TestKadDHT_FindPeer 测试通过中间节点找到目标
func TestKadDHT_FindPeer(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 3)
	connectLine(t, dhts)
	target := dhts[2]

	assert.Empty(t, dhts[0].peerstore.Addrs(target.Self()))

	pi, err := dhts[0].FindPeer(ctx, target.Self())
	require.NoError(t, err)
	assert.Equal(t, target.Self(), pi.ID)
	assert.NotEmpty(t, pi.Addrs)
}

// TestKadDHT_FindPeerNotFound 测试查找不存在的节点
func TestKadDHT_FindPeerNotFound(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 4, WithMaxTimeout(15*time.Second))
	connectLine(t, dhts)

	start := time.Now()
	_, err := dhts[0].FindPeer(ctx, newTestPeerID(t))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Less(t, time.Since(start), 15*time.Second)
	t.Log("✅ 随机 ID 查找返回 NotFound")
}

// TestKadDHT_FindPeerEmptyTable 测试路由表为空
func TestKadDHT_FindPeerEmptyTable(t *testing.T) {
	_, err := newTestDHT(t).FindPeer(testCtx(t), newTestPeerID(t))
	assert.ErrorIs(t, err, ErrLookupFailure)

	_, err = newTestDHT(t).FindPeer(testCtx(t), "")
	assert.Error(t, err)
}

// ============================================================================
// Provider
// ============================================================================

// TestKadDHT_ProvideFindProviders 测试声明后被其他节点找到
func TestKadDHT_ProvideFindProviders(t *testing.T) {
	ctx := testCtx(t)
	a, b := newTestDHT(t), newTestDHT(t)
	connectDHTs(t, a, b)

	cid := []byte("content-id")
	require.NoError(t, a.Provide(ctx, cid))

	provs, err := b.FindProviders(ctx, cid)
	require.NoError(t, err)
	var ids []types.PeerID
	for _, p := range provs {
		ids = append(ids, p.ID)
		assert.NotEmpty(t, p.Addrs)
	}
	assert.Contains(t, ids, a.Self())
}

// TestKadDHT_FindProvidersMultiHop 测试跨节点查找 Provider
func TestKadDHT_FindProvidersMultiHop(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 4)
	connectLine(t, dhts)

	cid := []byte("far-content")
	require.NoError(t, dhts[3].Provide(ctx, cid))

	provs, err := dhts[0].FindNProviders(ctx, cid, 1)
	require.NoError(t, err)
	require.Len(t, provs, 1)
	assert.Equal(t, dhts[3].Self(), provs[0].ID)
}

// TestKadDHT_ProvideLocalOnly 测试路由表为空时只登记本地
func TestKadDHT_ProvideLocalOnly(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDHT(t)

	require.NoError(t, d.Provide(ctx, []byte("cid")))
	provs, err := d.FindProviders(ctx, []byte("cid"))
	require.NoError(t, err)
	require.Len(t, provs, 1)
	assert.Equal(t, d.Self(), provs[0].ID)

	_, err = d.FindProviders(ctx, []byte("other"))
	assert.ErrorIs(t, err, ErrLookupFailure)
}

// ============================================================================
// 公钥
// ============================================================================

// TestKadDHT_GetPublicKey 测试从 DHT 获取未连接节点的公钥
func TestKadDHT_GetPublicKey(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 3)
	connectLine(t, dhts)
	target := dhts[2].Self()

	require.Nil(t, dhts[0].peerstore.PubKey(target))

	pub, err := dhts[0].GetPublicKey(ctx, target)
	require.NoError(t, err)
	assert.True(t, pub.Equals(dhts[2].peerstore.PubKey(target)))
	assert.NotNil(t, dhts[0].peerstore.PubKey(target))
}

// TestKadDHT_GetPublicKeyKnown 测试已知公钥直接返回
func TestKadDHT_GetPublicKeyKnown(t *testing.T) {
	a, b := newTestDHT(t), newTestDHT(t)
	connectDHTs(t, a, b)

	pub, err := a.GetPublicKey(testCtx(t), b.Self())
	require.NoError(t, err)
	assert.NotNil(t, pub)
}

// ============================================================================
// 随机游走
// ============================================================================

// TestRandomWalk_Walk 测试单次随机游走
func TestRandomWalk_Walk(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDHT(t)
	assert.ErrorIs(t, d.RandomWalk().Walk(ctx), ErrLookupFailure)

	dhts := newTestDHTs(t, 3)
	connectLine(t, dhts)
	assert.NoError(t, dhts[0].RandomWalk().Walk(ctx))
}

// TestRandomWalk_StartStop 测试启动停止
func TestRandomWalk_StartStop(t *testing.T) {
	d := newTestDHT(t)
	rw := d.RandomWalk()

	require.NoError(t, rw.Start(RandomWalkConfig{Delay: time.Hour}))
	assert.ErrorIs(t, rw.Start(RandomWalkConfig{}), ErrAlreadyStarted)
	rw.Stop()
	rw.Stop()
	require.NoError(t, rw.Start(RandomWalkConfig{Delay: time.Hour}))
	rw.Stop()
}

// TestKadDHT_Bootstrap 测试引导填充路由表
func TestKadDHT_Bootstrap(t *testing.T) {
	ctx := testCtx(t)
	dhts := newTestDHTs(t, 4)
	connectLine(t, dhts)

	require.NoError(t, dhts[0].Bootstrap(ctx))
	assert.Eventually(t, func() bool { return dhts[0].RoutingTable().Size() >= 3 }, 5*time.Second, 20*time.Millisecond)
}
