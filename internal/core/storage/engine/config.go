// Package engine 定义存储引擎的公共配置与错误
package engine

import (
	"os"
	"path/filepath"
	"time"
)

// Config 存储引擎配置
//
// InMemory 为 true 时数据只保存在内存中，Path 被忽略；
// 这是 DHT 的默认数据存储形态。
type Config struct {
	// Path 数据目录路径（持久化模式必需）
	Path string

	// InMemory 是否使用内存模式
	InMemory bool

	// SyncWrites 是否同步写入
	SyncWrites bool

	// ReadOnly 是否只读模式
	ReadOnly bool

	// Logger 日志记录器
	// 如果为 nil，将禁用 badger 内部日志
	Logger Logger

	// Badger 特定选项
	Badger BadgerOptions
}

// BadgerOptions BadgerDB 特定选项
type BadgerOptions struct {
	// MemTableSize 内存表大小（字节）
	MemTableSize int64

	// ValueLogFileSize 值日志文件大小（字节）
	ValueLogFileSize int64

	// NumMemtables 内存表数量
	NumMemtables int

	// ValueThreshold 值大小阈值，大于此值的值存储在值日志中
	ValueThreshold int64

	// BlockCacheSize 块缓存大小（字节）
	BlockCacheSize int64

	// NumCompactors 压缩器数量
	NumCompactors int

	// GCInterval 值日志垃圾回收间隔，0 表示禁用
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64
}

// Logger 日志接口
type Logger interface {
	Errorf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// DefaultConfig 返回持久化模式的默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:   path,
		Badger: DefaultBadgerOptions(),
	}
}

// InMemoryConfig 返回内存模式的默认配置
//
// 内存模式使用更小的内存表，便于同一进程中运行多个节点。
func InMemoryConfig() *Config {
	opts := DefaultBadgerOptions()
	opts.MemTableSize = 4 << 20
	opts.BlockCacheSize = 8 << 20
	opts.NumMemtables = 2
	opts.GCInterval = 0
	return &Config{
		InMemory: true,
		Badger:   opts,
	}
}

// DefaultBadgerOptions 返回默认 BadgerDB 选项
func DefaultBadgerOptions() BadgerOptions {
	return BadgerOptions{
		MemTableSize:     64 << 20, // 64MB
		ValueLogFileSize: 256 << 20,
		NumMemtables:     5,
		ValueThreshold:   1 << 10,   // 1KB
		BlockCacheSize:   64 << 20,  // 64MB
		NumCompactors:    4,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return ErrInvalidConfig
	}
	if c.InMemory && c.ReadOnly {
		return ErrInvalidConfig
	}
	if c.Badger.MemTableSize < 1<<20 { // 最小 1MB
		return ErrInvalidConfig
	}
	if !c.InMemory && c.Badger.ValueLogFileSize < 1<<20 {
		return ErrInvalidConfig
	}
	if c.Badger.GCDiscardRatio < 0 || c.Badger.GCDiscardRatio >= 1 {
		return ErrInvalidConfig
	}
	return nil
}

// EnsureDir 确保数据目录存在
func (c *Config) EnsureDir() error {
	if c.InMemory {
		return nil
	}
	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	c.Path = absPath
	return os.MkdirAll(c.Path, 0755)
}

// WithLogger 设置日志记录器
func (c *Config) WithLogger(l Logger) *Config {
	c.Logger = l
	return c
}
