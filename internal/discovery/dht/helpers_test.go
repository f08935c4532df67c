package dht

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/internal/core/host"
	"github.com/dep2p/go-kaddht/internal/core/identity"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// testNamespace 测试用的签名命名空间
const testNamespace = "test"

// newTestPeerID 生成随机节点 ID
func newTestPeerID(t *testing.T) types.PeerID {
	t.Helper()
	p, err := randomPeerID()
	require.NoError(t, err)
	return p
}

// newTestPeerIDs 生成 n 个随机节点 ID
func newTestPeerIDs(t *testing.T, n int) []types.PeerID {
	t.Helper()
	out := make([]types.PeerID, n)
	for i := range out {
		out[i] = newTestPeerID(t)
	}
	return out
}

// newTestHost 创建监听回环地址的测试主机
func newTestHost(t *testing.T) (*host.Host, *identity.Identity) {
	t.Helper()

	id, err := identity.Generate()
	require.NoError(t, err)
	h, err := host.New(id, host.WithListenStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	require.NoError(t, h.Start())
	t.Cleanup(func() { h.Close() })
	return h, id
}

// newTestDHT 创建并启动测试 DHT
//
// 关闭随机游走，注册签名的 test 命名空间。
func newTestDHT(t *testing.T, opts ...ConfigOption) *KadDHT {
	t.Helper()

	h, id := newTestHost(t)
	base := []ConfigOption{
		WithRegisterer(prometheus.NewRegistry()),
		WithRandomWalk(RandomWalkConfig{Enabled: false}),
		WithValidator(testNamespace, Validator{Sign: true}),
		WithPrivateKey(id.PrivateKey()),
	}
	d, err := New(h, nil, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Close() })
	return d
}

// newTestDHTs 创建 n 个测试 DHT
func newTestDHTs(t *testing.T, n int, opts ...ConfigOption) []*KadDHT {
	t.Helper()
	out := make([]*KadDHT, n)
	for i := range out {
		out[i] = newTestDHT(t, opts...)
	}
	return out
}

// connectDHTs 连接两个 DHT 并等待双方路由表收录对方
func connectDHTs(t *testing.T, a, b *KadDHT) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.host.Connect(ctx, types.NewPeerInfo(b.self, b.host.Addrs())))
	require.Eventually(t, func() bool {
		_, okA := a.routingTable.Find(b.self)
		_, okB := b.routingTable.Find(a.self)
		return okA && okB
	}, 5*time.Second, 10*time.Millisecond)
}

// connectLine 按 0-1-2-... 的顺序两两相连
func connectLine(t *testing.T, dhts []*KadDHT) {
	t.Helper()
	for i := 0; i+1 < len(dhts); i++ {
		connectDHTs(t, dhts[i], dhts[i+1])
	}
}

// testKey 返回 test 命名空间下的键
func testKey(name string) string {
	return "/" + testNamespace + "/" + name
}
