package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kaddht/internal/core/storage/engine"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
)

// testEngine 创建内存模式测试引擎
func testEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, e.Close())
	})
	return e
}

// collect 读取查询的全部结果
func collect(t *testing.T, res interfaces.Results) []interfaces.Entry {
	t.Helper()
	defer res.Close()

	var out []interfaces.Entry
	for {
		e, ok := res.Next()
		if !ok {
			break
		}
		out = append(out, e)
	}
	require.NoError(t, res.Err())
	return out
}

// ============= 基础 CRUD 测试 =============

// TestEngine_PutGet 测试写入读取
func TestEngine_PutGet(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, "/a/key", []byte("value")))

	got, err := e.Get(ctx, "/a/key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	has, err := e.Has(ctx, "/a/key")
	require.NoError(t, err)
	assert.True(t, has)
}

// TestEngine_GetNotFound 测试读取不存在的键
func TestEngine_GetNotFound(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, err := e.Get(ctx, "/missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	has, err := e.Has(ctx, "/missing")
	require.NoError(t, err)
	assert.False(t, has)
}

// TestEngine_Delete 测试删除
func TestEngine_Delete(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, "/k", []byte("v")))
	require.NoError(t, e.Delete(ctx, "/k"))
	_, err := e.Get(ctx, "/k")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	// 删除不存在的键不报错
	assert.NoError(t, e.Delete(ctx, "/k"))
}

// TestEngine_EmptyKey 测试空键
func TestEngine_EmptyKey(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.Put(ctx, "", []byte("v")), engine.ErrEmptyKey)
	_, err := e.Get(ctx, "")
	assert.ErrorIs(t, err, engine.ErrEmptyKey)
}

// ============= 查询与批量测试 =============

// TestEngine_QueryPrefix 测试前缀查询
func TestEngine_QueryPrefix(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Put(ctx, fmt.Sprintf("/providers/a/%d", i), []byte{byte(i)}))
	}
	require.NoError(t, e.Put(ctx, "/providers/b/0", []byte{9}))
	require.NoError(t, e.Put(ctx, "/records/x", []byte{7}))

	res, err := e.Query(ctx, interfaces.Query{Prefix: "/providers/a/"})
	require.NoError(t, err)
	entries := collect(t, res)
	require.Len(t, entries, 5)
	for i, en := range entries {
		assert.Equal(t, fmt.Sprintf("/providers/a/%d", i), en.Key)
		assert.Equal(t, []byte{byte(i)}, en.Value)
	}

	res, err = e.Query(ctx, interfaces.Query{Prefix: "/providers/", KeysOnly: true})
	require.NoError(t, err)
	entries = collect(t, res)
	require.Len(t, entries, 6)
	assert.Nil(t, entries[0].Value)
}

// TestEngine_Batch 测试批量写入与删除
func TestEngine_Batch(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, "/old", []byte("x")))

	b, err := e.Batch(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "/new1", []byte("1")))
	require.NoError(t, b.Put(ctx, "/new2", []byte("2")))
	require.NoError(t, b.Delete(ctx, "/old"))

	// 提交前不可见
	has, err := e.Has(ctx, "/new1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, b.Commit(ctx))
	assert.ErrorIs(t, b.Commit(ctx), engine.ErrBatchClosed)

	has, err = e.Has(ctx, "/old")
	require.NoError(t, err)
	assert.False(t, has)

	v, err := e.Get(ctx, "/new2")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	stats := e.Stats()
	assert.GreaterOrEqual(t, stats.Writes, int64(3))
	assert.GreaterOrEqual(t, stats.Deletes, int64(1))
}

// ============= 生命周期测试 =============

// TestEngine_Closed 测试关闭后的操作
func TestEngine_Closed(t *testing.T) {
	e, err := NewInMemory()
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	ctx := context.Background()
	assert.ErrorIs(t, e.Put(ctx, "/k", nil), engine.ErrClosed)
	_, err = e.Query(ctx, interfaces.Query{})
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, e.Start(), engine.ErrClosed)
}

// TestEngine_Persistent 测试持久化模式重启后数据仍在
func TestEngine_Persistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	e, err := New(engine.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, e.Start())
	require.NoError(t, e.Put(ctx, "/persist", []byte("yes")))
	require.NoError(t, e.Close())

	e, err = New(engine.DefaultConfig(dir))
	require.NoError(t, err)
	defer e.Close()

	v, err := e.Get(ctx, "/persist")
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), v)
}

// TestEngine_ReadOnly 测试只读模式拒绝写入
func TestEngine_ReadOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	e, err := New(engine.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, e.Put(ctx, "/ro", []byte("v")))
	require.NoError(t, e.Close())

	cfg := engine.DefaultConfig(dir)
	cfg.ReadOnly = true
	e, err = New(cfg)
	require.NoError(t, err)
	defer e.Close()

	v, err := e.Get(ctx, "/ro")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	assert.ErrorIs(t, e.Put(ctx, "/ro", []byte("w")), engine.ErrReadOnly)
	assert.ErrorIs(t, e.Delete(ctx, "/ro"), engine.ErrReadOnly)
}
