// Package lib 提供 kaddht 的基础库
//
//   - crypto: Ed25519 密钥与 PeerID 派生
//   - log: 基于 slog 的组件日志
//   - msgio: uvarint 长度前缀帧
package lib
