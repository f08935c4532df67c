package peerstore

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

func testPeer(t *testing.T) (types.PeerID, crypto.PublicKey) {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	require.NoError(t, err)
	id, err := crypto.PeerIDFromPublicKey(pub)
	require.NoError(t, err)
	return id, pub
}

// TestAddrBook_TTL 测试地址按 TTL 过期
func TestAddrBook_TTL(t *testing.T) {
	clk := clock.NewMock()
	ps := New(WithClock(clk))
	defer ps.Close()

	p, _ := testPeer(t)
	a1 := ma.StringCast("/ip4/127.0.0.1/tcp/4001")
	a2 := ma.StringCast("/ip4/127.0.0.1/tcp/4002")

	ps.AddAddrs(p, []ma.Multiaddr{a1}, time.Minute)
	ps.AddAddrs(p, []ma.Multiaddr{a2}, time.Hour)
	assert.Len(t, ps.Addrs(p), 2)

	clk.Add(2 * time.Minute)
	addrs := ps.Addrs(p)
	require.Len(t, addrs, 1)
	assert.True(t, addrs[0].Equal(a2))

	clk.Add(time.Hour)
	assert.Empty(t, ps.Addrs(p))
}

// TestAddrBook_AddExtendsOnly 测试重复添加只延长过期时间
func TestAddrBook_AddExtendsOnly(t *testing.T) {
	clk := clock.NewMock()
	ps := New(WithClock(clk))
	defer ps.Close()

	p, _ := testPeer(t)
	a := ma.StringCast("/ip4/10.0.0.1/tcp/1")

	ps.AddAddrs(p, []ma.Multiaddr{a}, time.Hour)
	ps.AddAddrs(p, []ma.Multiaddr{a}, time.Minute)
	clk.Add(30 * time.Minute)
	assert.Len(t, ps.Addrs(p), 1)

	// SetAddrs 可以缩短
	ps.SetAddrs(p, []ma.Multiaddr{a}, time.Second)
	clk.Add(2 * time.Second)
	assert.Empty(t, ps.Addrs(p))
}

// TestAddrBook_Permanent 测试永久地址
func TestAddrBook_Permanent(t *testing.T) {
	clk := clock.NewMock()
	ps := New(WithClock(clk))
	defer ps.Close()

	p, _ := testPeer(t)
	ps.AddAddrs(p, []ma.Multiaddr{ma.StringCast("/ip4/1.2.3.4/tcp/1")}, PermanentAddrTTL)
	clk.Add(24 * 365 * time.Hour)
	assert.Len(t, ps.Addrs(p), 1)

	ps.ClearAddrs(p)
	assert.Empty(t, ps.Addrs(p))
}

// TestKeyBook 测试公钥校验
func TestKeyBook(t *testing.T) {
	ps := New()
	defer ps.Close()

	p, pub := testPeer(t)
	other, otherPub := testPeer(t)

	assert.Nil(t, ps.PubKey(p))
	assert.ErrorIs(t, ps.AddPubKey(p, otherPub), ErrInvalidPublicKey)
	require.NoError(t, ps.AddPubKey(p, pub))
	assert.True(t, crypto.KeyEqual(pub, ps.PubKey(p)))

	ps.AddAddrs(other, []ma.Multiaddr{ma.StringCast("/ip4/1.2.3.4/tcp/1")}, time.Hour)
	assert.ElementsMatch(t, []types.PeerID{p, other}, ps.Peers())

	info := ps.PeerInfo(other)
	assert.Equal(t, other, info.ID)
	assert.True(t, info.HasAddrs())
}

// TestPeerstore_GC 测试后台清理
func TestPeerstore_GC(t *testing.T) {
	clk := clock.NewMock()
	ps := New(WithClock(clk))
	defer ps.Close()

	p, _ := testPeer(t)
	ps.AddAddrs(p, []ma.Multiaddr{ma.StringCast("/ip4/1.2.3.4/tcp/1")}, time.Second)

	clk.Add(gcInterval)
	assert.Eventually(t, func() bool {
		return len(ps.peersWithAddrs()) == 0
	}, time.Second, 10*time.Millisecond)
}
