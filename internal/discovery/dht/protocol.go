package dht

import (
	"fmt"

	ma "github.com/multiformats/go-multiaddr"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 消息类型
type MessageType int32

const (
	// MessagePutValue 存储值
	MessagePutValue MessageType = 0
	// MessageGetValue 获取值
	MessageGetValue MessageType = 1
	// MessageAddProvider 声明 Provider
	MessageAddProvider MessageType = 2
	// MessageGetProviders 查询 Provider
	MessageGetProviders MessageType = 3
	// MessageFindNode 查找节点
	MessageFindNode MessageType = 4
	// MessagePing 探活
	MessagePing MessageType = 5
)

// String 返回消息类型名称
func (t MessageType) String() string {
	switch t {
	case MessagePutValue:
		return "PUT_VALUE"
	case MessageGetValue:
		return "GET_VALUE"
	case MessageAddProvider:
		return "ADD_PROVIDER"
	case MessageGetProviders:
		return "GET_PROVIDERS"
	case MessageFindNode:
		return "FIND_NODE"
	case MessagePing:
		return "PING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// ConnectionType 发送方与该节点的连接状态
type ConnectionType int32

const (
	// NotConnected 未连接
	NotConnected ConnectionType = 0
	// Connected 已连接
	Connected ConnectionType = 1
	// CanConnect 近期连接过
	CanConnect ConnectionType = 2
	// CannotConnect 近期连接失败
	CannotConnect ConnectionType = 3
)

// ============================================================================
//                              消息结构
// ============================================================================

// PeerMessage 消息中携带的节点信息
type PeerMessage struct {
	ID         types.PeerID
	Addrs      []ma.Multiaddr
	Connection ConnectionType
}

// Info 转换为 PeerInfo
func (pm PeerMessage) Info() types.PeerInfo {
	return types.NewPeerInfo(pm.ID, pm.Addrs)
}

// Record 值记录
type Record struct {
	Key          []byte
	Value        []byte
	Author       types.PeerID
	Signature    []byte
	TimeReceived string
}

// Message DHT 线协议消息
type Message struct {
	Type            MessageType
	Key             []byte
	Record          *Record
	CloserPeers     []PeerMessage
	ProviderPeers   []PeerMessage
	ClusterLevelRaw int32
}

// ClusterLevel 返回集群层级（线格式中加 1 存储）
func (m *Message) ClusterLevel() int {
	level := int(m.ClusterLevelRaw) - 1
	if level < 0 {
		return 0
	}
	return level
}

// SetClusterLevel 设置集群层级
func (m *Message) SetClusterLevel(level int) {
	m.ClusterLevelRaw = int32(level + 1)
}

// NewMessage 创建消息
func NewMessage(t MessageType, key []byte, level int) *Message {
	m := &Message{Type: t, Key: key}
	m.SetClusterLevel(level)
	return m
}

// ============================================================================
//                              编码
// ============================================================================

// 字段编号
const (
	fieldMsgType         protowire.Number = 1
	fieldMsgKey          protowire.Number = 2
	fieldMsgRecord       protowire.Number = 3
	fieldMsgCloserPeers  protowire.Number = 8
	fieldMsgProviders    protowire.Number = 9
	fieldMsgClusterLevel protowire.Number = 10

	fieldPeerID         protowire.Number = 1
	fieldPeerAddrs      protowire.Number = 2
	fieldPeerConnection protowire.Number = 3

	fieldRecKey          protowire.Number = 1
	fieldRecValue        protowire.Number = 2
	fieldRecAuthor       protowire.Number = 3
	fieldRecSignature    protowire.Number = 4
	fieldRecTimeReceived protowire.Number = 5
)

// Marshal 序列化消息
func (m *Message) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if len(m.Key) > 0 {
		b = protowire.AppendTag(b, fieldMsgKey, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Key)
	}
	if m.Record != nil {
		b = protowire.AppendTag(b, fieldMsgRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Record.Marshal())
	}
	for _, p := range m.CloserPeers {
		b = protowire.AppendTag(b, fieldMsgCloserPeers, protowire.BytesType)
		b = protowire.AppendBytes(b, p.marshal())
	}
	for _, p := range m.ProviderPeers {
		b = protowire.AppendTag(b, fieldMsgProviders, protowire.BytesType)
		b = protowire.AppendBytes(b, p.marshal())
	}
	if m.ClusterLevelRaw != 0 {
		b = protowire.AppendTag(b, fieldMsgClusterLevel, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ClusterLevelRaw))
	}
	return b
}

// UnmarshalMessage 反序列化消息
func UnmarshalMessage(data []byte) (*Message, error) {
	m := &Message{}
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fieldMsgType && typ == protowire.VarintType:
			m.Type = MessageType(int32(x))
		case num == fieldMsgKey && typ == protowire.BytesType:
			m.Key = append([]byte(nil), v...)
		case num == fieldMsgRecord && typ == protowire.BytesType:
			rec, err := UnmarshalRecord(v)
			if err != nil {
				return err
			}
			m.Record = rec
		case num == fieldMsgCloserPeers && typ == protowire.BytesType:
			p, err := unmarshalPeer(v)
			if err != nil {
				return err
			}
			m.CloserPeers = append(m.CloserPeers, p)
		case num == fieldMsgProviders && typ == protowire.BytesType:
			p, err := unmarshalPeer(v)
			if err != nil {
				return err
			}
			m.ProviderPeers = append(m.ProviderPeers, p)
		case num == fieldMsgClusterLevel && typ == protowire.VarintType:
			m.ClusterLevelRaw = int32(x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (p PeerMessage) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPeerID, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(p.ID))
	for _, a := range p.Addrs {
		b = protowire.AppendTag(b, fieldPeerAddrs, protowire.BytesType)
		b = protowire.AppendBytes(b, a.Bytes())
	}
	if p.Connection != NotConnected {
		b = protowire.AppendTag(b, fieldPeerConnection, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Connection))
	}
	return b
}

func unmarshalPeer(data []byte) (PeerMessage, error) {
	var p PeerMessage
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fieldPeerID && typ == protowire.BytesType:
			id, err := types.PeerIDFromBytes(v)
			if err != nil {
				return err
			}
			p.ID = id
		case num == fieldPeerAddrs && typ == protowire.BytesType:
			a, err := ma.NewMultiaddrBytes(v)
			if err != nil {
				// 忽略无法解析的地址
				return nil
			}
			p.Addrs = append(p.Addrs, a)
		case num == fieldPeerConnection && typ == protowire.VarintType:
			p.Connection = ConnectionType(int32(x))
		}
		return nil
	})
	if err != nil {
		return PeerMessage{}, err
	}
	if p.ID.IsEmpty() {
		return PeerMessage{}, fmt.Errorf("%w: peer without id", ErrInvalidMessage)
	}
	return p, nil
}

// Marshal 序列化记录
func (r *Record) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRecKey, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Key)
	b = protowire.AppendTag(b, fieldRecValue, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Value)
	if r.Author != "" {
		b = protowire.AppendTag(b, fieldRecAuthor, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(r.Author))
	}
	if len(r.Signature) > 0 {
		b = protowire.AppendTag(b, fieldRecSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Signature)
	}
	if r.TimeReceived != "" {
		b = protowire.AppendTag(b, fieldRecTimeReceived, protowire.BytesType)
		b = protowire.AppendString(b, r.TimeReceived)
	}
	return b
}

// UnmarshalRecord 反序列化记录
func UnmarshalRecord(data []byte) (*Record, error) {
	r := &Record{}
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldRecKey:
			r.Key = append([]byte(nil), v...)
		case fieldRecValue:
			r.Value = append([]byte(nil), v...)
		case fieldRecAuthor:
			r.Author = types.PeerID(v)
		case fieldRecSignature:
			r.Signature = append([]byte(nil), v...)
		case fieldRecTimeReceived:
			r.TimeReceived = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// consumeFields 遍历字段，未知字段跳过
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
			}
			if err := fn(num, typ, nil, x); err != nil {
				return err
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// ============================================================================
//                              转换辅助
// ============================================================================

// peerInfosToMessages 将 PeerInfo 转换为消息格式
func peerInfosToMessages(infos []types.PeerInfo, connected func(types.PeerID) bool) []PeerMessage {
	out := make([]PeerMessage, 0, len(infos))
	for _, pi := range infos {
		pm := PeerMessage{ID: pi.ID, Addrs: pi.Addrs}
		if connected != nil && connected(pi.ID) {
			pm.Connection = Connected
		}
		out = append(out, pm)
	}
	return out
}

// peerMessagesToInfos 将消息格式转换为 PeerInfo
func peerMessagesToInfos(pms []PeerMessage) []types.PeerInfo {
	out := make([]types.PeerInfo, 0, len(pms))
	for _, pm := range pms {
		out = append(out, pm.Info())
	}
	return out
}
