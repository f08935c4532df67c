// Package crypto 提供 kaddht 使用的密码学工具
//
// 当前仅支持 Ed25519 密钥：
//   - 节点身份（PeerID 由序列化公钥的 SHA-256 派生）
//   - 签名记录（/pk 之外需要签名的命名空间）
//
// 序列化格式为 protobuf 线格式 {1: KeyType, 2: Data}，
// 与 DHT 消息共用 protowire 编解码。
package crypto
