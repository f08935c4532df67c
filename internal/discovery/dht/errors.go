package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// 预定义错误
var (
	// ErrLookupFailure 路由表为空，无法发起查询
	ErrLookupFailure = errors.New("dht: lookup failure: no peers in routing table")

	// ErrNotFound 查询结束仍未找到目标
	ErrNotFound = errors.New("dht: not found")

	// ErrInvalidRecord 记录未通过本地校验
	ErrInvalidRecord = errors.New("dht: invalid record")

	// ErrTimeout 超时
	ErrTimeout = errors.New("dht: timeout")

	// ErrAlreadyStarted 已启动
	ErrAlreadyStarted = errors.New("dht: already started")

	// ErrNotStarted 未启动
	ErrNotStarted = errors.New("dht: not started")

	// ErrNetworkOffline 网络未启动
	ErrNetworkOffline = errors.New("dht: network is offline")

	// ErrHostClosed 底层 Host 已关闭
	ErrHostClosed = errors.New("dht: host is closed")

	// ErrMessageTooLarge 消息超过大小上限
	ErrMessageTooLarge = errors.New("dht: message too large")

	// ErrInvalidMessage 无效消息
	ErrInvalidMessage = errors.New("dht: invalid message")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dht: invalid config")

	// ErrNilHost Host 为空
	ErrNilHost = errors.New("dht: host is nil")
)

// DHTError DHT 错误类型
type DHTError struct {
	Op      string // 操作名称
	Err     error  // 底层错误
	Message string // 错误消息
}

// Error 实现 error 接口
func (e *DHTError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dht %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("dht %s: %v", e.Op, e.Err)
}

// Unwrap 实现错误解包
func (e *DHTError) Unwrap() error {
	return e.Err
}

// NewDHTError 创建 DHT 错误
func NewDHTError(op string, err error, message string) *DHTError {
	return &DHTError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}

// timeoutError 将上下文超时与流读写超时转换为 ErrTimeout，其他错误原样返回
func timeoutError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, ctxErr)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
