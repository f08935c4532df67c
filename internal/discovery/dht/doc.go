// Package dht 实现 Kademlia 分布式哈希表核心
//
// # 组成
//
//   - RoutingTable: 按与本地 Key 的公共前缀长度分桶的 K 桶路由表
//   - Providers: Provider 记录注册表（LRU 缓存 + 持久化存储 + 过期清理）
//   - Network: 基于 Host 的 RPC 传输（uvarint 长度前缀帧）
//   - 请求分发: 服务端按消息类型分发到各处理函数
//   - query: 有界并发的迭代查询引擎，成功即终止
//   - KadDHT: 对外门面（Put/Get/GetMany/GetClosestPeers/FindPeer/Provide/FindProviders/GetPublicKey）
//   - RandomWalk: 周期性随机查找，保持路由表活跃
//
// # 距离
//
// Key 为 32 字节 SHA-256 输出，距离为两个 Key 的按位异或，按大端无符号整数比较。
//
// # 使用示例
//
//	d, err := dht.New(host, datastore, dht.WithBucketSize(20))
//	if err != nil {
//	    return err
//	}
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Stop(ctx)
//
//	_ = d.Put(ctx, "/v/hello", []byte("world"))
//	value, err := d.Get(ctx, "/v/hello")
package dht
