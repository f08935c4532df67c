package config

import (
	"errors"
	"path/filepath"
	"time"
)

// StorageConfig 存储配置
//
// 默认使用内存存储；设置 DataDir 并关闭 InMemory 后使用 BadgerDB 持久化。
type StorageConfig struct {
	// InMemory 是否使用内存存储
	InMemory bool `json:"in_memory"`

	// DataDir 数据目录路径
	DataDir string `json:"data_dir"`

	// SyncWrites 是否同步写入
	SyncWrites bool `json:"sync_writes"`

	// GCInterval 值日志垃圾回收间隔
	GCInterval Duration `json:"gc_interval"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		InMemory:   true,
		DataDir:    "./data",
		GCInterval: Duration(10 * time.Minute),
	}
}

// Validate 验证存储配置的有效性
func (c StorageConfig) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return errors.New("storage: data_dir cannot be empty")
	}
	if c.GCInterval < 0 {
		return errors.New("storage: gc_interval cannot be negative")
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "kaddht.db")
}
