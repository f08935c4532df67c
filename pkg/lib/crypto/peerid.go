package crypto

import (
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              PeerID 派生
// ============================================================================

// PeerIDFromPublicKey 从公钥派生 PeerID
//
// 派生算法：Multihash(SHA256(序列化公钥))，字符串形式为 Base58。
func PeerIDFromPublicKey(pub PublicKey) (types.PeerID, error) {
	if pub == nil {
		return types.EmptyPeerID, ErrNilPublicKey
	}
	data, err := MarshalPublicKey(pub)
	if err != nil {
		return types.EmptyPeerID, err
	}
	return types.PeerIDFromDigest(data)
}

// PeerIDFromPrivateKey 从私钥派生 PeerID
func PeerIDFromPrivateKey(priv PrivateKey) (types.PeerID, error) {
	if priv == nil {
		return types.EmptyPeerID, ErrNilPrivateKey
	}
	return PeerIDFromPublicKey(priv.GetPublic())
}

// VerifyPeerID 验证公钥是否对应给定的 PeerID
func VerifyPeerID(pub PublicKey, id types.PeerID) (bool, error) {
	derived, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return false, err
	}
	return derived == id, nil
}
