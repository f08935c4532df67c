package peerstore

import (
	"errors"
	"sync"

	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ErrInvalidPublicKey 公钥与 PeerID 不匹配
var ErrInvalidPublicKey = errors.New("peerstore: public key does not match peer id")

// keyBook 公钥簿
type keyBook struct {
	mu      sync.RWMutex
	pubKeys map[types.PeerID]crypto.PublicKey
}

func newKeyBook() *keyBook {
	return &keyBook{pubKeys: make(map[types.PeerID]crypto.PublicKey)}
}

// PubKey 获取公钥，未知时返回 nil
func (kb *keyBook) PubKey(p types.PeerID) crypto.PublicKey {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.pubKeys[p]
}

// AddPubKey 添加公钥，公钥必须能派生出该 PeerID
func (kb *keyBook) AddPubKey(p types.PeerID, pub crypto.PublicKey) error {
	ok, err := crypto.VerifyPeerID(pub, p)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidPublicKey
	}

	kb.mu.Lock()
	kb.pubKeys[p] = pub
	kb.mu.Unlock()
	return nil
}

// peersWithKeys 返回有公钥记录的节点
func (kb *keyBook) peersWithKeys() []types.PeerID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]types.PeerID, 0, len(kb.pubKeys))
	for p := range kb.pubKeys {
		out = append(out, p)
	}
	return out
}
