// Package peerstore 实现节点信息存储
//
// 包含两部分：
//   - 地址簿：按 TTL 过期的 multiaddr 集合
//   - 公钥簿：经过 PeerID 校验的公钥
//
// 时间来源为 clock.Clock，测试中可以使用 clock.NewMock() 推进时间。
package peerstore
