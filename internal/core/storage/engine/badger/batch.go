package badger

import (
	"context"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-kaddht/internal/core/storage/engine"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
)

// WriteBatch BadgerDB 批量写入实现
type WriteBatch struct {
	db      *Engine
	batch   *badger.WriteBatch
	puts    atomic.Int64
	deletes atomic.Int64
	closed  atomic.Bool
}

var _ interfaces.Batch = (*WriteBatch)(nil)

// Put 添加一个写入操作
func (b *WriteBatch) Put(_ context.Context, key string, value []byte) error {
	if b.closed.Load() {
		return engine.ErrBatchClosed
	}
	if key == "" {
		return engine.ErrEmptyKey
	}
	if err := b.batch.Set([]byte(key), value); err != nil {
		return convertError(err)
	}
	b.puts.Add(1)
	return nil
}

// Delete 添加一个删除操作
func (b *WriteBatch) Delete(_ context.Context, key string) error {
	if b.closed.Load() {
		return engine.ErrBatchClosed
	}
	if key == "" {
		return engine.ErrEmptyKey
	}
	if err := b.batch.Delete([]byte(key)); err != nil {
		return convertError(err)
	}
	b.deletes.Add(1)
	return nil
}

// Commit 提交批量操作，提交后批量对象不可再用
func (b *WriteBatch) Commit(_ context.Context) error {
	if b.closed.Swap(true) {
		return engine.ErrBatchClosed
	}
	if b.db.closed.Load() {
		b.batch.Cancel()
		return engine.ErrClosed
	}
	if err := b.batch.Flush(); err != nil {
		return convertError(err)
	}
	b.db.stats.numWrites.Add(b.puts.Load())
	b.db.stats.numDeletes.Add(b.deletes.Load())
	return nil
}

// Cancel 放弃未提交的操作
func (b *WriteBatch) Cancel() {
	if b.closed.Swap(true) {
		return
	}
	b.batch.Cancel()
}
