package crypto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// 序列化字段号
const (
	fieldKeyType protowire.Number = 1
	fieldKeyData protowire.Number = 2
)

// MarshalPublicKey 序列化公钥
func MarshalPublicKey(key PublicKey) ([]byte, error) {
	if key == nil {
		return nil, ErrNilPublicKey
	}
	return marshalKey(key)
}

// MarshalPrivateKey 序列化私钥
func MarshalPrivateKey(key PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, ErrNilPrivateKey
	}
	return marshalKey(key)
}

func marshalKey(key Key) ([]byte, error) {
	raw, err := key.Raw()
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = protowire.AppendTag(buf, fieldKeyType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(key.Type()))
	buf = protowire.AppendTag(buf, fieldKeyData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, raw)
	return buf, nil
}

// unmarshalKey 解析 {type, data}
func unmarshalKey(data []byte) (KeyType, []byte, error) {
	var (
		keyType KeyType
		raw     []byte
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldKeyType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(m))
			}
			keyType = KeyType(v)
			n = m
		case num == fieldKeyData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(m))
			}
			raw = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}
	return keyType, raw, nil
}

// UnmarshalPublicKey 反序列化公钥
func UnmarshalPublicKey(data []byte) (PublicKey, error) {
	keyType, raw, err := unmarshalKey(data)
	if err != nil {
		return nil, err
	}
	switch keyType {
	case KeyTypeEd25519:
		return UnmarshalEd25519PublicKey(raw)
	default:
		return nil, ErrBadKeyType
	}
}

// UnmarshalPrivateKey 反序列化私钥
func UnmarshalPrivateKey(data []byte) (PrivateKey, error) {
	keyType, raw, err := unmarshalKey(data)
	if err != nil {
		return nil, err
	}
	switch keyType {
	case KeyTypeEd25519:
		return UnmarshalEd25519PrivateKey(raw)
	default:
		return nil, ErrBadKeyType
	}
}
