package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"io"
)

// KeyType 密钥类型
//
// 数值与线格式中的枚举值一致。
type KeyType int32

const (
	// KeyTypeUnspecified 未指定密钥类型
	KeyTypeUnspecified KeyType = 0
	// KeyTypeEd25519 Ed25519 密钥
	KeyTypeEd25519 KeyType = 1
)

// String 返回密钥类型名称
func (kt KeyType) String() string {
	switch kt {
	case KeyTypeEd25519:
		return "Ed25519"
	case KeyTypeUnspecified:
		return "Unspecified"
	default:
		return "Unknown"
	}
}

// ============================================================================
//                              密钥接口定义
// ============================================================================

// Key 基础密钥接口
type Key interface {
	// Raw 返回原始密钥字节
	Raw() ([]byte, error)

	// Type 返回密钥类型
	Type() KeyType

	// Equals 比较两个密钥是否相等
	Equals(Key) bool
}

// PublicKey 公钥接口
type PublicKey interface {
	Key

	// Verify 使用此公钥验证签名
	Verify(data, sig []byte) (bool, error)
}

// PrivateKey 私钥接口
type PrivateKey interface {
	Key

	// Sign 使用此私钥签名数据
	Sign(data []byte) ([]byte, error)

	// GetPublic 返回对应的公钥
	GetPublic() PublicKey
}

// ============================================================================
//                              密钥工厂函数
// ============================================================================

// GenerateKeyPair 生成密钥对（使用系统加密随机源）
func GenerateKeyPair(keyType KeyType) (PrivateKey, PublicKey, error) {
	return GenerateKeyPairWithReader(keyType, rand.Reader)
}

// GenerateKeyPairWithReader 使用指定随机源生成密钥对
func GenerateKeyPairWithReader(keyType KeyType, src io.Reader) (PrivateKey, PublicKey, error) {
	switch keyType {
	case KeyTypeEd25519:
		return GenerateEd25519Key(src)
	default:
		return nil, nil, ErrBadKeyType
	}
}

// KeyEqual 比较两个密钥的类型和原始字节
func KeyEqual(k1, k2 Key) bool {
	if k1 == nil || k2 == nil {
		return k1 == k2
	}
	if k1.Type() != k2.Type() {
		return false
	}
	b1, err1 := k1.Raw()
	b2, err2 := k2.Raw()
	if err1 != nil || err2 != nil {
		return false
	}
	return subtle.ConstantTimeCompare(b1, b2) == 1
}
