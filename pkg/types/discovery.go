package types

import (
	ma "github.com/multiformats/go-multiaddr"
)

// ============================================================================
//                              PeerInfo - 节点信息
// ============================================================================

// PeerInfo 节点信息
//
// DHT 响应中的 closerPeers / providerPeers 均以此结构返回。
type PeerInfo struct {
	// ID 节点 ID
	ID PeerID

	// Addrs 地址列表
	Addrs []ma.Multiaddr
}

// HasAddrs 检查是否有地址
func (pi PeerInfo) HasAddrs() bool {
	return len(pi.Addrs) > 0
}

// AddrsToStrings 返回地址的字符串切片
func (pi PeerInfo) AddrsToStrings() []string {
	strs := make([]string, len(pi.Addrs))
	for i, addr := range pi.Addrs {
		strs[i] = addr.String()
	}
	return strs
}

// NewPeerInfo 创建 PeerInfo
func NewPeerInfo(id PeerID, addrs []ma.Multiaddr) PeerInfo {
	return PeerInfo{
		ID:    id,
		Addrs: addrs,
	}
}

// PeerInfoFromStrings 从字符串地址创建 PeerInfo
//
// 忽略无法解析的地址。
func PeerInfoFromStrings(id PeerID, addrStrs []string) PeerInfo {
	addrs := make([]ma.Multiaddr, 0, len(addrStrs))
	for _, s := range addrStrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return NewPeerInfo(id, addrs)
}

// ParsePeerAddr 解析带 /p2p/<id> 后缀的地址
//
// 示例："/ip4/1.2.3.4/tcp/4001/p2p/5Q2STWvBFn..."
func ParsePeerAddr(s string) (PeerInfo, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return PeerInfo{}, err
	}
	transport, last := ma.SplitLast(addr)
	if last == nil || last.Protocol().Code != ma.P_P2P {
		return PeerInfo{}, ErrInvalidPeerID
	}
	id, err := ParsePeerID(last.Value())
	if err != nil {
		return PeerInfo{}, err
	}
	return NewPeerInfo(id, []ma.Multiaddr{transport}), nil
}
