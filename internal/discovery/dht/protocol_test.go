package dht

import (
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// TestMessage_MarshalRoundTrip 测试完整消息编解码
func TestMessage_MarshalRoundTrip(t *testing.T) {
	addr := ma.StringCast("/ip4/10.0.0.1/tcp/4001")
	closer := newTestPeerID(t)
	provider := newTestPeerID(t)

	msg := NewMessage(MessageGetProviders, []byte("cid"), 2)
	msg.Record = &Record{
		Key:          []byte("/test/k"),
		Value:        []byte("v"),
		Author:       provider,
		Signature:    []byte{1, 2, 3},
		TimeReceived: "2024-01-01T00:00:00Z",
	}
	msg.CloserPeers = []PeerMessage{{ID: closer, Addrs: []ma.Multiaddr{addr}, Connection: Connected}}
	msg.ProviderPeers = []PeerMessage{{ID: provider}}

	got, err := UnmarshalMessage(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, MessageGetProviders, got.Type)
	assert.Equal(t, []byte("cid"), got.Key)
	assert.Equal(t, 2, got.ClusterLevel())
	assert.Equal(t, msg.Record, got.Record)
	require.Len(t, got.CloserPeers, 1)
	assert.Equal(t, closer, got.CloserPeers[0].ID)
	assert.True(t, addr.Equal(got.CloserPeers[0].Addrs[0]))
	assert.Equal(t, Connected, got.CloserPeers[0].Connection)
	require.Len(t, got.ProviderPeers, 1)
	assert.Equal(t, provider, got.ProviderPeers[0].ID)
}

// TestMessage_PingIsMinimal 测试 PING 消息只有类型字段
func TestMessage_PingIsMinimal(t *testing.T) {
	msg := &Message{Type: MessagePing}
	got, err := UnmarshalMessage(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, MessagePing, got.Type)
	assert.Nil(t, got.Record)
	assert.Equal(t, 0, got.ClusterLevel())
}

// TestMessage_SkipsUnknownFields 测试未知字段被跳过
func TestMessage_SkipsUnknownFields(t *testing.T) {
	b := NewMessage(MessageFindNode, []byte("k"), 0).Marshal()
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = protowire.AppendTag(b, 43, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 7)

	got, err := UnmarshalMessage(b)
	require.NoError(t, err)
	assert.Equal(t, MessageFindNode, got.Type)
	assert.Equal(t, []byte("k"), got.Key)
}

// TestMessage_Malformed 测试损坏的数据
func TestMessage_Malformed(t *testing.T) {
	b := NewMessage(MessageGetValue, []byte("some key"), 0).Marshal()

	_, err := UnmarshalMessage(b[:len(b)-3])
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// 没有 ID 的节点
	var bad []byte
	bad = protowire.AppendTag(bad, fieldMsgCloserPeers, protowire.BytesType)
	bad = protowire.AppendBytes(bad, nil)
	_, err = UnmarshalMessage(bad)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

// TestMessageType_String 测试类型名称
func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "FIND_NODE", MessageFindNode.String())
	assert.Equal(t, "PING", MessagePing.String())
	assert.Equal(t, "UNKNOWN(42)", MessageType(42).String())
}

// TestPeerInfosToMessages 测试连接状态标注
func TestPeerInfosToMessages(t *testing.T) {
	a, b := newTestPeerID(t), newTestPeerID(t)
	pms := peerInfosToMessages([]types.PeerInfo{{ID: a}, {ID: b}}, func(p types.PeerID) bool { return p == a })

	require.Len(t, pms, 2)
	assert.Equal(t, Connected, pms[0].Connection)
	assert.Equal(t, NotConnected, pms[1].Connection)
	assert.Equal(t, []types.PeerID{a, b}, []types.PeerID{peerMessagesToInfos(pms)[0].ID, peerMessagesToInfos(pms)[1].ID})
}
