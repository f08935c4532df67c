package interfaces

import (
	"context"
)

// Datastore 键值存储能力
//
// 键为 "/" 分隔的字符串路径，值为原始字节。
// 实现必须满足前缀查询和批量删除语义。
type Datastore interface {
	// Get 获取值，不存在时返回 storage 的 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Has 检查键是否存在
	Has(ctx context.Context, key string) (bool, error)

	// Put 写入键值
	Put(ctx context.Context, key string, value []byte) error

	// Delete 删除键（不存在时不报错）
	Delete(ctx context.Context, key string) error

	// Query 按前缀遍历
	Query(ctx context.Context, q Query) (Results, error)

	// Batch 创建批量写入
	Batch(ctx context.Context) (Batch, error)

	// Close 关闭存储
	Close() error
}

// Query 查询条件
type Query struct {
	// Prefix 键前缀
	Prefix string

	// KeysOnly 只返回键
	KeysOnly bool
}

// Entry 查询结果条目
type Entry struct {
	Key   string
	Value []byte
}

// Results 查询结果迭代器
//
// 使用模式:
//
//	res, err := ds.Query(ctx, interfaces.Query{Prefix: "/providers/"})
//	if err != nil {
//	    return err
//	}
//	defer res.Close()
//	for {
//	    e, ok := res.Next()
//	    if !ok {
//	        break
//	    }
//	    // 处理 e
//	}
//	return res.Err()
type Results interface {
	// Next 返回下一条，遍历结束返回 false
	Next() (Entry, bool)

	// Err 返回遍历过程中的错误
	Err() error

	// Close 释放资源
	Close() error
}

// Batch 批量写入
type Batch interface {
	// Put 添加写入操作
	Put(ctx context.Context, key string, value []byte) error

	// Delete 添加删除操作
	Delete(ctx context.Context, key string) error

	// Commit 原子提交
	Commit(ctx context.Context) error
}
