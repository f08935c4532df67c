package interfaces

import (
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// Peerstore 节点信息存储
type Peerstore interface {
	AddrBook
	KeyBook

	// PeerInfo 返回节点的 ID 与有效地址
	PeerInfo(peer types.PeerID) types.PeerInfo

	// Peers 返回所有已知节点
	Peers() []types.PeerID
}

// AddrBook 地址簿
type AddrBook interface {
	// AddAddrs 添加地址（已存在时延长 TTL）
	AddAddrs(peer types.PeerID, addrs []ma.Multiaddr, ttl time.Duration)

	// SetAddrs 覆盖地址的 TTL，ttl 为 0 时删除
	SetAddrs(peer types.PeerID, addrs []ma.Multiaddr, ttl time.Duration)

	// Addrs 返回未过期的地址
	Addrs(peer types.PeerID) []ma.Multiaddr

	// ClearAddrs 清除节点全部地址
	ClearAddrs(peer types.PeerID)
}

// KeyBook 公钥簿
type KeyBook interface {
	// PubKey 返回节点公钥，未知时返回 nil
	PubKey(peer types.PeerID) crypto.PublicKey

	// AddPubKey 记录公钥（必须与 PeerID 匹配）
	AddPubKey(peer types.PeerID, pub crypto.PublicKey) error
}
