package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// TestEd25519_SignVerify 测试签名验证
func TestEd25519_SignVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair(KeyTypeEd25519)
	require.NoError(t, err)

	data := []byte("hello kad")
	sig, err := priv.Sign(data)
	require.NoError(t, err)

	ok, err := pub.Verify(data, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pub.Verify([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMarshal_RoundTrip 测试公私钥序列化
func TestMarshal_RoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair(KeyTypeEd25519)
	require.NoError(t, err)

	pubBytes, err := MarshalPublicKey(pub)
	require.NoError(t, err)
	pub2, err := UnmarshalPublicKey(pubBytes)
	require.NoError(t, err)
	assert.True(t, pub.Equals(pub2))

	privBytes, err := MarshalPrivateKey(priv)
	require.NoError(t, err)
	priv2, err := UnmarshalPrivateKey(privBytes)
	require.NoError(t, err)
	assert.True(t, priv.Equals(priv2))
	assert.True(t, priv2.GetPublic().Equals(pub))
}

// TestUnmarshal_Invalid 测试无效输入
func TestUnmarshal_Invalid(t *testing.T) {
	_, err := UnmarshalPublicKey([]byte{0xff})
	assert.Error(t, err)

	_, _, err = GenerateKeyPair(KeyType(42))
	assert.ErrorIs(t, err, ErrBadKeyType)
}

// TestPeerIDFromPublicKey 测试 PeerID 派生
func TestPeerIDFromPublicKey(t *testing.T) {
	priv, pub, err := GenerateKeyPair(KeyTypeEd25519)
	require.NoError(t, err)

	id, err := PeerIDFromPublicKey(pub)
	require.NoError(t, err)
	assert.NoError(t, id.Validate())

	id2, err := PeerIDFromPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	parsed, err := types.ParsePeerID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	ok, err := VerifyPeerID(pub, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, otherPub, err := GenerateKeyPair(KeyTypeEd25519)
	require.NoError(t, err)
	ok, err = VerifyPeerID(otherPub, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
