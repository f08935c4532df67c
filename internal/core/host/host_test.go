package host

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/internal/core/identity"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/types"
)

const testProto types.ProtocolID = "/test/echo/1.0.0"

// newTestHost 创建监听回环地址的测试主机
func newTestHost(t *testing.T) *Host {
	t.Helper()

	id, err := identity.Generate()
	require.NoError(t, err)
	h, err := New(id, WithListenStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	require.NoError(t, h.Start())
	t.Cleanup(func() { h.Close() })
	return h
}

func infoOf(h *Host) types.PeerInfo {
	return types.NewPeerInfo(h.ID(), h.Addrs())
}

// TestHost_ConnectAndStream 测试连接并打开协议流
func TestHost_ConnectAndStream(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	b.SetStreamHandler(testProto, func(s interfaces.Stream) {
		defer s.Close()
		assert.Equal(t, a.ID(), s.RemotePeer())
		assert.Equal(t, testProto, s.Protocol())
		buf := make([]byte, 5)
		if _, err := io.ReadFull(s, buf); err != nil {
			return
		}
		_, _ = s.Write(buf)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Connect(ctx, infoOf(b)))
	assert.True(t, a.IsConnected(b.ID()))
	assert.Eventually(t, func() bool { return b.IsConnected(a.ID()) }, 2*time.Second, 10*time.Millisecond)

	s, err := a.NewStream(ctx, b.ID(), testProto)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	// 握手交换了公钥与监听地址
	assert.NotNil(t, b.Peerstore().PubKey(a.ID()))
	assert.NotEmpty(t, b.Peerstore().Addrs(a.ID()))
}

// TestHost_NewStreamDialsFromPeerstore 测试 NewStream 使用地址簿自动拨号
func TestHost_NewStreamDialsFromPeerstore(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)
	b.SetStreamHandler(testProto, func(s interfaces.Stream) { s.Close() })

	a.Peerstore().AddAddrs(b.ID(), b.Addrs(), time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := a.NewStream(ctx, b.ID(), testProto)
	require.NoError(t, err)
	s.Close()
}

// TestHost_UnsupportedProtocol 测试对端不支持的协议
func TestHost_UnsupportedProtocol(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, infoOf(b)))

	_, err := a.NewStream(ctx, b.ID(), "/not/supported")
	assert.Error(t, err)

	b.SetStreamHandler(testProto, func(s interfaces.Stream) { s.Close() })
	b.RemoveStreamHandler(testProto)
	_, err = a.NewStream(ctx, b.ID(), testProto)
	assert.Error(t, err)
}

// TestHost_PeerIDMismatch 测试拨号身份校验
func TestHost_PeerIDMismatch(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)
	c := newTestHost(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 用 c 的 ID 拨 b 的地址
	err := a.Connect(ctx, types.NewPeerInfo(c.ID(), b.Addrs()))
	assert.ErrorIs(t, err, ErrPeerIDMismatch)
	assert.False(t, a.IsConnected(c.ID()))
}

// TestHost_Errors 测试错误路径
func TestHost_Errors(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)
	ctx := context.Background()

	assert.ErrorIs(t, a.Connect(ctx, infoOf(a)), ErrDialSelf)
	assert.ErrorIs(t, a.Connect(ctx, types.PeerInfo{ID: b.ID()}), ErrNoAddresses)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.True(t, a.Closed())
	assert.ErrorIs(t, a.Connect(ctx, infoOf(b)), ErrHostClosed)
	_, err := a.NewStream(ctx, b.ID(), testProto)
	assert.ErrorIs(t, err, ErrHostClosed)
}

type recordingNotifiee struct {
	mu           sync.Mutex
	connected    []types.PeerID
	disconnected []types.PeerID
}

func (r *recordingNotifiee) Connected(p types.PeerID) {
	r.mu.Lock()
	r.connected = append(r.connected, p)
	r.mu.Unlock()
}

func (r *recordingNotifiee) Disconnected(p types.PeerID) {
	r.mu.Lock()
	r.disconnected = append(r.disconnected, p)
	r.mu.Unlock()
}

func (r *recordingNotifiee) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected), len(r.disconnected)
}

// TestHost_Notify 测试连接事件通知
func TestHost_Notify(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	n := &recordingNotifiee{}
	b.Notify(n)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, infoOf(b)))

	assert.Eventually(t, func() bool {
		c, _ := n.counts()
		return c == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 关闭 a 侧连接后 b 收到断开通知
	require.NoError(t, a.ClosePeer(b.ID()))
	assert.Eventually(t, func() bool {
		_, d := n.counts()
		return d == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, a.IsConnected(b.ID()))

	b.StopNotify(n)
}

// TestHello_Marshal 测试握手消息编解码
func TestHello_Marshal(t *testing.T) {
	m := &hello{
		PubKey:    []byte{1, 2, 3},
		Addrs:     []ma.Multiaddr{ma.StringCast("/ip4/127.0.0.1/tcp/4001")},
		Signature: []byte{9},
	}
	got, err := unmarshalHello(m.marshal())
	require.NoError(t, err)
	assert.Equal(t, m.PubKey, got.PubKey)
	assert.Equal(t, m.Signature, got.Signature)
	require.Len(t, got.Addrs, 1)
	assert.True(t, got.Addrs[0].Equal(m.Addrs[0]))

	_, err = unmarshalHello([]byte{0xff})
	assert.ErrorIs(t, err, ErrInvalidHello)
}
