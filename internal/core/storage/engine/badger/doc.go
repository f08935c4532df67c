// Package badger 提供基于 BadgerDB 的 Datastore 实现
//
// 支持持久化与内存两种模式；内存模式是 DHT 节点的默认存储。
//
// # 使用示例
//
//	db, err := badger.New(engine.InMemoryConfig())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Put(ctx, "/records/abc", value); err != nil {
//	    return err
//	}
//
//	res, err := db.Query(ctx, interfaces.Query{Prefix: "/records/"})
package badger
