package engine

import "errors"

// 存储引擎错误定义
var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("storage: key not found")

	// ErrEmptyKey 空键
	ErrEmptyKey = errors.New("storage: empty key")

	// ErrClosed 引擎已关闭
	ErrClosed = errors.New("storage: engine closed")

	// ErrReadOnly 只读模式
	ErrReadOnly = errors.New("storage: read-only mode")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("storage: invalid configuration")

	// ErrBatchClosed 批量操作已提交或取消
	ErrBatchClosed = errors.New("storage: batch closed")
)

// IsNotFound 检查是否为 key not found 错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClosed 检查是否为 engine closed 错误
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
