package identity

import (
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
)

// pemTypePrivateKey 私钥 PEM 块类型，内容为 crypto.MarshalPrivateKey 的输出
const pemTypePrivateKey = "KADDHT PRIVATE KEY"

// 错误定义
var (
	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrKeyNotFound 密钥文件不存在
	ErrKeyNotFound = errors.New("identity: key not found")
)

// SavePrivateKey 保存私钥到 PEM 文件
//
// 使用临时文件 + rename 写入，文件权限 0600。
func SavePrivateKey(key crypto.PrivateKey, path string) error {
	data, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	block := &pem.Block{Type: pemTypePrivateKey, Bytes: data}
	return atomicWriteFile(path, pem.EncodeToMemory(block), 0600)
}

// LoadPrivateKey 从 PEM 文件加载私钥
func LoadPrivateKey(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePrivateKey {
		return nil, ErrInvalidPEM
	}
	return crypto.UnmarshalPrivateKey(block.Bytes)
}

// LoadOrGenerate 加载密钥文件，不存在且允许时生成并保存
func LoadOrGenerate(path string, autoGenerate bool) (*Identity, error) {
	priv, err := LoadPrivateKey(path)
	switch {
	case err == nil:
		return New(priv)
	case errors.Is(err, ErrKeyNotFound) && autoGenerate:
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := SavePrivateKey(id.PrivateKey(), path); err != nil {
			return nil, fmt.Errorf("保存密钥失败: %w", err)
		}
		logger.Info("已生成新的节点密钥", "path", path, "peer", id.PeerID().ShortString())
		return id, nil
	default:
		return nil, err
	}
}

// atomicWriteFile 原子写文件
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
