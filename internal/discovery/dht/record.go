package dht

import (
	"errors"
	"fmt"
	"strings"

	base32 "github.com/multiformats/go-base32"
	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

const (
	// RecordsKeyPrefix 值记录在数据存储中的键前缀
	RecordsKeyPrefix = "/records/"

	// PublicKeyNamespace 公钥记录命名空间
	PublicKeyNamespace = "pk"
)

// ErrBadKeyFormat 键格式错误
var ErrBadKeyFormat = errors.New("dht: key must be of the form /namespace/rest")

// recordDatastoreKey 返回记录在数据存储中的键
func recordDatastoreKey(key []byte) string {
	return RecordsKeyPrefix + base32.RawStdEncoding.EncodeToString(key)
}

// PublicKeyKey 返回节点公钥记录的键
func PublicKeyKey(p types.PeerID) string {
	return "/" + PublicKeyNamespace + "/" + string(p)
}

func parsePublicKeyKey(key string) (types.PeerID, bool) {
	prefix := "/" + PublicKeyNamespace + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	p, err := types.PeerIDFromBytes([]byte(key[len(prefix):]))
	if err != nil {
		return "", false
	}
	return p, true
}

// SplitKey 拆分 /namespace/rest 形式的键
func SplitKey(key string) (string, string, error) {
	if len(key) == 0 || key[0] != '/' {
		return "", "", ErrBadKeyFormat
	}
	ns, rest, ok := strings.Cut(key[1:], "/")
	if !ok || ns == "" {
		return "", "", ErrBadKeyFormat
	}
	return ns, rest, nil
}

// MakeRecord 创建未签名记录
func MakeRecord(key string, value []byte) *Record {
	return &Record{Key: []byte(key), Value: value}
}

// recordSigningBytes 签名覆盖 key、value、author，各字段带长度前缀
func recordSigningBytes(rec *Record) []byte {
	var b []byte
	for _, f := range [][]byte{rec.Key, rec.Value, []byte(rec.Author)} {
		b = append(b, varint.ToUvarint(uint64(len(f)))...)
		b = append(b, f...)
	}
	return b
}

// SignRecord 以 priv 签名记录并填写作者
func SignRecord(rec *Record, priv crypto.PrivateKey) error {
	author, err := crypto.PeerIDFromPrivateKey(priv)
	if err != nil {
		return err
	}
	rec.Author = author
	sig, err := priv.Sign(recordSigningBytes(rec))
	if err != nil {
		return err
	}
	rec.Signature = sig
	return nil
}

// VerifyRecordSignature 校验记录签名
func VerifyRecordSignature(rec *Record, pub crypto.PublicKey) error {
	if rec.Author == "" || len(rec.Signature) == 0 {
		return fmt.Errorf("%w: record is not signed", ErrInvalidRecord)
	}
	ok, err := crypto.VerifyPeerID(pub, rec.Author)
	if err != nil || !ok {
		return fmt.Errorf("%w: author key mismatch", ErrInvalidRecord)
	}
	ok, err = pub.Verify(recordSigningBytes(rec), rec.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if !ok {
		return fmt.Errorf("%w: bad signature", ErrInvalidRecord)
	}
	return nil
}
