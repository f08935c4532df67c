// Package host 实现 kaddht 的 P2P 主机
//
// 连接建立流程（TCP）:
//
//	拨号/接受 → multistream 选择握手协议 → 交换 nonce → 交换签名 hello
//	         → multistream 选择 /yamux/1.0.0 → yamux 会话
//
// 每个入站 yamux 流先用 multistream-select 协商应用协议，
// 再交给 SetStreamHandler 注册的处理器。
//
// 同一节点可以同时存在多条连接；只有首条连接建立时发出 Connected 通知，
// 最后一条连接断开时发出 Disconnected 通知。
package host
