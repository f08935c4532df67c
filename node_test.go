package kaddht

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
)

// newTestNode 创建并启动监听回环地址的测试节点
func newTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()

	base := []Option{
		WithListenAddrs("/ip4/127.0.0.1/tcp/0"),
		WithInMemoryStorage(),
		WithRandomWalk(false),
		WithValidator("v", Validator{Sign: true}),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node, err := Start(ctx, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })
	return node
}

// connectNodes 以 a 为引导节点启动 b，并等待双方路由表互相可见
func connectNodes(t *testing.T, a *Node, opts ...Option) *Node {
	t.Helper()

	require.NotEmpty(t, a.ShareableAddrs())
	b := newTestNode(t, append([]Option{WithBootstrapPeers(a.ShareableAddrs()...)}, opts...)...)
	require.Eventually(t, func() bool {
		return a.RoutingTableSize() > 0 && b.RoutingTableSize() > 0
	}, 10*time.Second, 20*time.Millisecond)
	return b
}

// ============================================================================
//                              构造与生命周期
// ============================================================================

// TestNew_InvalidOption 测试非法选项
func TestNew_InvalidOption(t *testing.T) {
	_, err := New(context.Background(), WithListenAddrs())
	assert.Error(t, err)

	_, err = New(context.Background(), WithConfig(nil))
	assert.Error(t, err)

	_, err = New(context.Background(), WithBucketSize(0))
	assert.Error(t, err)
}

// TestNew_InvalidConfig 测试配置校验失败
func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), WithListenAddrs("not-a-multiaddr"))
	assert.Error(t, err)
}

// TestNode_Lifecycle 测试启动与关闭的状态转换
func TestNode_Lifecycle(t *testing.T) {
	ctx := context.Background()
	node, err := New(ctx,
		WithListenAddrs("/ip4/127.0.0.1/tcp/0"),
		WithInMemoryStorage(),
		WithRandomWalk(false),
	)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, node.State())

	_, err = node.Get(ctx, "/v/key")
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, node.Start(ctx))
	assert.True(t, node.IsRunning())
	assert.NotEmpty(t, node.ID())
	assert.NotEmpty(t, node.Addrs())
	assert.ErrorIs(t, node.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, node.Close())
	assert.Equal(t, StateClosed, node.State())
	assert.NoError(t, node.Close())
	assert.ErrorIs(t, node.Start(ctx), ErrNodeClosed)
	assert.ErrorIs(t, node.Put(ctx, "/v/key", []byte("x")), ErrNodeClosed)
}

// TestNode_CloseBeforeStart 测试未启动时关闭
func TestNode_CloseBeforeStart(t *testing.T) {
	node, err := New(context.Background(), WithInMemoryStorage())
	require.NoError(t, err)
	assert.NoError(t, node.Close())
	assert.Equal(t, StateClosed, node.State())
}

// TestNode_WithIdentity 测试注入私钥
func TestNode_WithIdentity(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	require.NoError(t, err)
	want, err := crypto.PeerIDFromPrivateKey(priv)
	require.NoError(t, err)

	node := newTestNode(t, WithIdentity(priv))
	assert.Equal(t, want, node.ID())
	assert.True(t, crypto.KeyEqual(priv, node.PrivateKey()))
}

// TestNode_WithConfig 测试统一配置
func TestNode_WithConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Network.Listen = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.Storage.InMemory = true
	cfg.DHT.RandomWalk.Enabled = false
	cfg.DHT.BucketSize = 8

	node := newTestNode(t, WithConfig(cfg))
	assert.True(t, node.IsRunning())
}

// ============================================================================
//                              DHT 操作
// ============================================================================

// TestNode_PutGet 测试两个节点间存取记录
func TestNode_PutGet(t *testing.T) {
	a := newTestNode(t)
	b := connectNodes(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, b.Put(ctx, "/v/hello", []byte("world")))

	val, err := a.Get(ctx, "/v/hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), val)
	t.Log("✅ 记录已复制到引导节点")
}

// TestNode_ProvideFindProviders 测试内容提供与查找
func TestNode_ProvideFindProviders(t *testing.T) {
	a := newTestNode(t)
	b := connectNodes(t, a)

	c, err := CIDFromData([]byte("some content"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, a.Provide(ctx, c))

	providers, err := b.FindProviders(ctx, c)
	require.NoError(t, err)
	require.NotEmpty(t, providers)
	assert.Equal(t, a.ID(), providers[0].ID)

	_, err = b.FindProviders(ctx, cid.Undef)
	assert.Error(t, err)
}

// TestNode_FindPeer 测试节点查找
func TestNode_FindPeer(t *testing.T) {
	a := newTestNode(t)
	b := connectNodes(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pi, err := b.FindPeer(ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, a.ID(), pi.ID)
	assert.NotEmpty(t, pi.Addrs)

	pub, err := b.GetPublicKey(ctx, a.ID())
	require.NoError(t, err)
	ok, err := crypto.VerifyPeerID(pub, a.ID())
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestNode_Connect 测试按完整地址连接
func TestNode_Connect(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, b.Connect(ctx, a.ShareableAddrs()[0]))
	assert.True(t, b.Host().IsConnected(a.ID()))

	assert.Error(t, b.Connect(ctx, "/ip4/127.0.0.1/tcp/1"))
}

// ============================================================================
//                              引导
// ============================================================================

// TestNode_BootstrapNoPeers 测试无引导节点时的引导
func TestNode_BootstrapNoPeers(t *testing.T) {
	node := newTestNode(t)
	err := node.Bootstrap(context.Background())
	assert.ErrorIs(t, err, ErrNoBootstrapPeers)
}

// TestNode_BootstrapUnreachable 测试引导节点不可达
func TestNode_BootstrapUnreachable(t *testing.T) {
	a := newTestNode(t)
	addr := a.ShareableAddrs()[0]
	require.NoError(t, a.Close())

	cfg := config.NewConfig()
	cfg.Network.Listen = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.Network.Bootstrap = []string{addr}
	cfg.Network.DialTimeout = config.Duration(200 * time.Millisecond)
	cfg.Network.BootstrapMaxElapsed = config.Duration(500 * time.Millisecond)
	cfg.Storage.InMemory = true
	cfg.DHT.RandomWalk.Enabled = false

	b := newTestNode(t, WithConfig(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := b.Bootstrap(ctx)
	assert.ErrorIs(t, err, ErrAllBootstrapFailed)
}

// TestParseBootstrapPeers 测试引导地址解析与合并
func TestParseBootstrapPeers(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	require.NoError(t, err)
	id, err := crypto.PeerIDFromPrivateKey(priv)
	require.NoError(t, err)

	peers, err := parseBootstrapPeers([]string{
		"/ip4/10.0.0.1/tcp/4001/p2p/" + id.String(),
		"/ip4/10.0.0.2/tcp/4001/p2p/" + id.String(),
	})
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Len(t, peers[0].Addrs, 2)

	_, err = parseBootstrapPeers([]string{"/ip4/10.0.0.1/tcp/4001"})
	assert.Error(t, err)
}

// ============================================================================
//                              指标与工具
// ============================================================================

// TestNode_MetricsEndpoint 测试指标 HTTP 服务
func TestNode_MetricsEndpoint(t *testing.T) {
	node := newTestNode(t, WithMetrics("127.0.0.1:0"))
	addr := node.MetricsAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kaddht_dht_routing_table_size")
	assert.Contains(t, string(body), "go_goroutines")
}

// TestCIDFromData 测试 CID 计算
func TestCIDFromData(t *testing.T) {
	c1, err := CIDFromData([]byte("hello"))
	require.NoError(t, err)
	c2, err := CIDFromData([]byte("hello"))
	require.NoError(t, err)
	c3, err := CIDFromData([]byte("world"))
	require.NoError(t, err)

	assert.True(t, c1.Equals(c2))
	assert.False(t, c1.Equals(c3))
	assert.Equal(t, uint64(cid.Raw), c1.Prefix().Codec)
	assert.Equal(t, uint64(1), c1.Prefix().Version)
}

// TestVersionInfo 测试版本信息
func TestVersionInfo(t *testing.T) {
	assert.Contains(t, VersionInfo(), Version)

	GitCommit = "0123456789abcdef"
	defer func() { GitCommit = "" }()
	assert.Contains(t, VersionInfo(), "(01234567)")
}
