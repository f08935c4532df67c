package dht

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// Validator 命名空间记录校验器
type Validator struct {
	// Validate 校验键值，返回错误表示记录无效
	Validate func(key string, value []byte) error

	// Sign 该命名空间的记录是否必须签名
	Sign bool
}

// Validators 命名空间到校验器的映射
type Validators map[string]Validator

// Selector 从多个候选值中选出最优值的下标
type Selector func(key string, values [][]byte) (int, error)

// Selectors 命名空间到选择器的映射
type Selectors map[string]Selector

// DefaultValidators 返回内置校验器
func DefaultValidators() Validators {
	return Validators{
		PublicKeyNamespace: PublicKeyValidator(),
	}
}

// DefaultSelectors 返回内置选择器
func DefaultSelectors() Selectors {
	return Selectors{
		PublicKeyNamespace: SelectFirst,
	}
}

// lookup 返回键所属命名空间的校验器
func (vs Validators) lookup(key string) (Validator, error) {
	ns, _, err := SplitKey(key)
	if err != nil {
		return Validator{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	v, ok := vs[ns]
	if !ok {
		return Validator{}, fmt.Errorf("%w: no validator for namespace %q", ErrInvalidRecord, ns)
	}
	return v, nil
}

// IsSigned 检查键所属命名空间是否要求签名
func (vs Validators) IsSigned(key string) bool {
	v, err := vs.lookup(key)
	return err == nil && v.Sign
}

// VerifyRecord 本地校验记录
//
// keyOf 用于取得签名记录作者的公钥，返回 nil 时记录视为无效。
func (vs Validators) VerifyRecord(rec *Record, keyOf func(types.PeerID) crypto.PublicKey) error {
	key := string(rec.Key)
	v, err := vs.lookup(key)
	if err != nil {
		return err
	}
	if v.Sign {
		if rec.Author == "" {
			return fmt.Errorf("%w: record is not signed", ErrInvalidRecord)
		}
		pub := keyOf(rec.Author)
		if pub == nil {
			return fmt.Errorf("%w: unknown author %s", ErrInvalidRecord, rec.Author.ShortString())
		}
		if err := VerifyRecordSignature(rec, pub); err != nil {
			return err
		}
	}
	if v.Validate != nil {
		if err := v.Validate(key, rec.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
	}
	return nil
}

// BestRecord 返回最优记录的下标，未注册选择器的命名空间取第一个
func (ss Selectors) BestRecord(key string, recs []*Record) (int, error) {
	if len(recs) == 0 {
		return 0, ErrNotFound
	}
	ns, _, err := SplitKey(key)
	if err != nil {
		return 0, err
	}
	sel, ok := ss[ns]
	if !ok {
		sel = SelectFirst
	}
	values := make([][]byte, len(recs))
	for i, r := range recs {
		values[i] = r.Value
	}
	i, err := sel(key, values)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= len(recs) {
		return 0, fmt.Errorf("selector returned out of range index %d", i)
	}
	return i, nil
}

// Has 检查键所属命名空间是否注册了选择器
func (ss Selectors) Has(key string) bool {
	ns, _, err := SplitKey(key)
	if err != nil {
		return false
	}
	_, ok := ss[ns]
	return ok
}

// SelectFirst 选择第一个值
func SelectFirst(_ string, values [][]byte) (int, error) {
	if len(values) == 0 {
		return 0, ErrNotFound
	}
	return 0, nil
}

// SelectLargest 按字节序选择最大的值
func SelectLargest(_ string, values [][]byte) (int, error) {
	if len(values) == 0 {
		return 0, ErrNotFound
	}
	best := 0
	for i := 1; i < len(values); i++ {
		if bytes.Compare(values[i], values[best]) > 0 {
			best = i
		}
	}
	return best, nil
}

// PublicKeyValidator 公钥命名空间校验器
//
// 值必须是序列化公钥，且其派生的 PeerID 等于键的后缀。
func PublicKeyValidator() Validator {
	return Validator{
		Validate: func(key string, value []byte) error {
			p, ok := parsePublicKeyKey(key)
			if !ok {
				return errors.New("bad public key record key")
			}
			pub, err := crypto.UnmarshalPublicKey(value)
			if err != nil {
				return err
			}
			match, err := crypto.VerifyPeerID(pub, p)
			if err != nil {
				return err
			}
			if !match {
				return fmt.Errorf("public key does not match peer %s", p.ShortString())
			}
			return nil
		},
	}
}
