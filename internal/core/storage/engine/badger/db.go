package badger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-kaddht/internal/core/storage/engine"
	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
)

// logger 是 badger 存储引擎的日志记录器
var logger = log.Logger("storage/badger")

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	config *engine.Config
	closed atomic.Bool

	stats struct {
		numReads   atomic.Int64
		numWrites  atomic.Int64
		numDeletes atomic.Int64
	}

	gcCtx    context.Context
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

var _ interfaces.Datastore = (*Engine)(nil)

// Stats 引擎统计
type Stats struct {
	Reads   int64
	Writes  int64
	Deletes int64
}

// New 创建新的 BadgerDB 存储引擎
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	db, err := badger.Open(buildBadgerOptions(cfg))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:       db,
		config:   cfg,
		gcCtx:    ctx,
		gcCancel: cancel,
	}, nil
}

// NewInMemory 创建内存模式引擎
func NewInMemory() (*Engine, error) {
	return New(engine.InMemoryConfig().WithLogger(NewLogger()))
}

// buildBadgerOptions 根据配置构建 BadgerDB 选项
func buildBadgerOptions(cfg *engine.Config) badger.Options {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path).
			WithValueLogFileSize(cfg.Badger.ValueLogFileSize).
			WithReadOnly(cfg.ReadOnly)
	}

	b := cfg.Badger
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithMemTableSize(b.MemTableSize).
		WithNumMemtables(b.NumMemtables).
		WithValueThreshold(b.ValueThreshold).
		WithBlockCacheSize(b.BlockCacheSize).
		WithNumCompactors(b.NumCompactors)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	return opts
}

// badgerLogger 适配器：将 engine.Logger 适配到 badger.Logger
type badgerLogger struct {
	logger engine.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warningf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Start 启动后台值日志垃圾回收
//
// 内存模式没有值日志，GC 不会启动。
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.InMemory || e.config.ReadOnly || e.config.Badger.GCInterval <= 0 {
		return nil
	}

	e.gcWg.Add(1)
	go func() {
		defer e.gcWg.Done()

		ticker := time.NewTicker(e.config.Badger.GCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-e.gcCtx.Done():
				return
			case <-ticker.C:
				e.runGC()
			}
		}
	}()
	return nil
}

// runGC 执行一次垃圾回收，直到没有可回收的文件
func (e *Engine) runGC() {
	for !e.closed.Load() {
		err := e.db.RunValueLogGC(e.config.Badger.GCDiscardRatio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			logger.Debug("值日志垃圾回收结束", "error", err)
		}
		return
	}
}

// Get 获取指定键的值
func (e *Engine) Get(_ context.Context, key string) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if key == "" {
		return nil, engine.ErrEmptyKey
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	e.stats.numReads.Add(1)
	if err != nil {
		return nil, convertError(err)
	}
	return value, nil
}

// Has 检查键是否存在
func (e *Engine) Has(_ context.Context, key string) (bool, error) {
	if e.closed.Load() {
		return false, engine.ErrClosed
	}
	if key == "" {
		return false, engine.ErrEmptyKey
	}

	var exists bool
	err := e.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			exists = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err
		}
	})
	return exists, convertError(err)
}

// Put 设置键值对
func (e *Engine) Put(_ context.Context, key string, value []byte) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if key == "" {
		return engine.ErrEmptyKey
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err == nil {
		e.stats.numWrites.Add(1)
	}
	return convertError(err)
}

// Delete 删除指定键
func (e *Engine) Delete(_ context.Context, key string) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	if key == "" {
		return engine.ErrEmptyKey
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err == nil {
		e.stats.numDeletes.Add(1)
	}
	return convertError(err)
}

// Batch 创建批量写入
func (e *Engine) Batch(_ context.Context) (interfaces.Batch, error) {
	if err := e.checkWritable(); err != nil {
		return nil, err
	}
	return &WriteBatch{
		db:    e,
		batch: e.db.NewWriteBatch(),
	}, nil
}

// Stats 返回引擎统计
func (e *Engine) Stats() Stats {
	return Stats{
		Reads:   e.stats.numReads.Load(),
		Writes:  e.stats.numWrites.Load(),
		Deletes: e.stats.numDeletes.Load(),
	}
}

// Close 关闭存储引擎
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.gcCancel()
	e.gcWg.Wait()
	return e.db.Close()
}

func (e *Engine) checkWritable() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.ReadOnly {
		return engine.ErrReadOnly
	}
	return nil
}

// convertError 将 badger 错误转换为 engine 错误
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	default:
		return err
	}
}
