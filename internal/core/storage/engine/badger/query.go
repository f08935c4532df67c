package badger

import (
	"context"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-kaddht/internal/core/storage/engine"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
)

// Query 按前缀遍历
//
// 结果在只读事务内一次性收集，返回后事务即释放，
// 调用方在遍历过程中可以自由写入同一前缀。
func (e *Engine) Query(ctx context.Context, q interfaces.Query) (interfaces.Results, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}

	var entries []interfaces.Entry
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = !q.KeysOnly
		if q.Prefix != "" {
			opts.Prefix = []byte(q.Prefix)
		}

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			entry := interfaces.Entry{Key: string(item.KeyCopy(nil))}
			if !strings.HasPrefix(entry.Key, q.Prefix) {
				break
			}
			if !q.KeysOnly {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				entry.Value = v
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, convertError(err)
	}
	e.stats.numReads.Add(int64(len(entries)))
	return &results{entries: entries}, nil
}

// results 基于切片的查询结果
type results struct {
	entries []interfaces.Entry
	pos     int
	closed  bool
}

var _ interfaces.Results = (*results)(nil)

func (r *results) Next() (interfaces.Entry, bool) {
	if r.closed || r.pos >= len(r.entries) {
		return interfaces.Entry{}, false
	}
	e := r.entries[r.pos]
	r.pos++
	return e, true
}

func (r *results) Err() error {
	return nil
}

func (r *results) Close() error {
	r.closed = true
	r.entries = nil
	return nil
}
