package crypto

import "errors"

// 密钥相关错误
var (
	// ErrBadKeyType 不支持的密钥类型
	ErrBadKeyType = errors.New("crypto: invalid or unsupported key type")

	// ErrNilPrivateKey 私钥为空
	ErrNilPrivateKey = errors.New("crypto: nil private key")

	// ErrNilPublicKey 公钥为空
	ErrNilPublicKey = errors.New("crypto: nil public key")

	// ErrInvalidKeySize 密钥大小无效
	ErrInvalidKeySize = errors.New("crypto: invalid key size")
)

// 序列化相关错误
var (
	// ErrUnmarshalFailed 反序列化失败
	ErrUnmarshalFailed = errors.New("crypto: unmarshal failed")
)
