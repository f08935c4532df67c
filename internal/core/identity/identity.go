package identity

import (
	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ============================================================================
//                              Identity 实现
// ============================================================================

// Identity interfaces.Identity 的实现
type Identity struct {
	privateKey crypto.PrivateKey
	publicKey  crypto.PublicKey
	peerID     types.PeerID
}

var _ interfaces.Identity = (*Identity)(nil)

// New 从私钥创建身份
func New(priv crypto.PrivateKey) (*Identity, error) {
	if priv == nil {
		return nil, crypto.ErrNilPrivateKey
	}
	pub := priv.GetPublic()
	id, err := crypto.PeerIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &Identity{
		privateKey: priv,
		publicKey:  pub,
		peerID:     id,
	}, nil
}

// Generate 生成新的 Ed25519 身份
func Generate() (*Identity, error) {
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	if err != nil {
		return nil, err
	}
	return New(priv)
}

// PeerID 返回节点 ID
func (i *Identity) PeerID() types.PeerID {
	return i.peerID
}

// PublicKey 返回公钥
func (i *Identity) PublicKey() crypto.PublicKey {
	return i.publicKey
}

// PrivateKey 返回私钥
func (i *Identity) PrivateKey() crypto.PrivateKey {
	return i.privateKey
}

// Sign 签名数据
func (i *Identity) Sign(data []byte) ([]byte, error) {
	return i.privateKey.Sign(data)
}
