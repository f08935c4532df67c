// Package types 定义 kaddht 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go        - PeerID, ProtocolID
//   - discovery.go  - PeerInfo
//   - errors.go     - 公共错误定义
package types
