// Package interfaces 定义 kaddht 的能力接口
//
// DHT 核心只依赖这里的接口：
//   - Host / Stream / Notifiee: 连接与多路复用流
//   - Peerstore: 地址簿与公钥簿
//   - Datastore: 键值存储（前缀查询 + 批量删除）
//   - Identity: 本地身份
//   - DHT: 键值存储、内容路由与节点路由
//
// 具体实现位于 internal/core 下。
package interfaces
