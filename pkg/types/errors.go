package types

import "errors"

// ============================================================================
//                              ID 相关错误
// ============================================================================

var (
	// ErrEmptyPeerID 空节点 ID
	ErrEmptyPeerID = errors.New("empty peer ID")

	// ErrInvalidPeerID 无效的节点 ID
	ErrInvalidPeerID = errors.New("invalid peer ID")
)
