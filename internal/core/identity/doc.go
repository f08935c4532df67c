// Package identity 提供节点身份
//
// 身份由 Ed25519 私钥确定，PeerID 由公钥派生。
// 私钥以 PEM 形式持久化；未配置密钥文件时在内存中生成临时身份。
package identity
