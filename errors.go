package kaddht

import "errors"

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 引导错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNoBootstrapPeers 未配置引导节点
	ErrNoBootstrapPeers = errors.New("no bootstrap peers configured")

	// ErrAllBootstrapFailed 所有引导节点连接失败
	ErrAllBootstrapFailed = errors.New("all bootstrap connections failed")
)
