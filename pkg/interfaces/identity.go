package interfaces

import (
	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// Identity 本地节点身份
type Identity interface {
	// PeerID 返回节点 ID
	PeerID() types.PeerID

	// PublicKey 返回公钥
	PublicKey() crypto.PublicKey

	// PrivateKey 返回私钥
	PrivateKey() crypto.PrivateKey

	// Sign 签名数据
	Sign(data []byte) ([]byte, error)
}
