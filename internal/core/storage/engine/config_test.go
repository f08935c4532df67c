package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfig_Validate 测试配置校验
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"持久化默认", func(*Config) {}, false},
		{"缺少路径", func(c *Config) { c.Path = "" }, true},
		{"内存表过小", func(c *Config) { c.Badger.MemTableSize = 1024 }, true},
		{"丢弃比例越界", func(c *Config) { c.Badger.GCDiscardRatio = 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("/tmp/kaddht-test")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestInMemoryConfig 测试内存模式配置
func TestInMemoryConfig(t *testing.T) {
	cfg := InMemoryConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.InMemory)
	assert.Zero(t, cfg.Badger.GCInterval)

	cfg.ReadOnly = true
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

// TestConfig_EnsureDir 测试目录创建
func TestConfig_EnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	cfg := DefaultConfig(dir)
	require.NoError(t, cfg.EnsureDir())
	assert.DirExists(t, dir)
	assert.True(t, filepath.IsAbs(cfg.Path))
}
