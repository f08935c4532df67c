package types

import (
	"github.com/mr-tron/base58"
	mh "github.com/multiformats/go-multihash"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点唯一标识符
//
// 内部保存序列化公钥的 multihash（sha2-256）原始字节，可直接作为 map 键，
// 也可直接放入 /p2p/ 地址组件。
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - ShortString(): Base58 前缀（日志简短标识）
type PeerID string

// EmptyPeerID 空节点ID
const EmptyPeerID PeerID = ""

// String 返回 PeerID 的 Base58 字符串表示
func (id PeerID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode([]byte(id))
}

// ShortString 返回 PeerID 的短字符串表示
//
// 格式：Base58 前 8 个字符，用于日志中的简短标识。
func (id PeerID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 PeerID 的原始字节
func (id PeerID) Bytes() []byte {
	return []byte(id)
}

// IsEmpty 检查 PeerID 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// Validate 检查 PeerID 是否为合法 multihash
func (id PeerID) Validate() error {
	if id.IsEmpty() {
		return ErrEmptyPeerID
	}
	if _, err := mh.Cast([]byte(id)); err != nil {
		return ErrInvalidPeerID
	}
	return nil
}

// PeerIDFromBytes 从原始字节创建 PeerID
func PeerIDFromBytes(b []byte) (PeerID, error) {
	if _, err := mh.Cast(b); err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerID(b), nil
}

// PeerIDFromDigest 以 sha2-256 multihash 包装任意数据得到 PeerID
//
// 身份派生与测试中构造随机 PeerID 均使用此函数。
func PeerIDFromDigest(data []byte) (PeerID, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return EmptyPeerID, err
	}
	return PeerID(sum), nil
}

// ParsePeerID 从 Base58 字符串解析 PeerID
//
// 示例：
//
//	id, err := ParsePeerID("5Q2STWvBFn...")
func ParsePeerID(s string) (PeerID, error) {
	if s == "" {
		return EmptyPeerID, ErrEmptyPeerID
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerIDFromBytes(b)
}

// ============================================================================
//                              ProtocolID - 协议标识
// ============================================================================

// ProtocolID 协议标识符
// 格式: /name/version，如 /ipfs/kad/1.0.0
type ProtocolID string

// String 返回协议ID字符串
func (p ProtocolID) String() string {
	return string(p)
}
