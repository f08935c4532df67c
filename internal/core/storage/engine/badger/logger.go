package badger

import (
	"fmt"
	"strings"

	"github.com/dep2p/go-kaddht/internal/core/storage/engine"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
)

// slogBridge 将 badger 的 printf 风格日志桥接到组件日志
type slogBridge struct {
	l *log.LazyLogger
}

// NewLogger 创建写入 "storage/badger" 组件日志的 engine.Logger
//
// badger 的 Info 级日志较为嘈杂，统一降为 Debug。
func NewLogger() engine.Logger {
	return &slogBridge{l: logger}
}

func (b *slogBridge) Errorf(format string, args ...interface{}) {
	b.l.Error(trim(format, args))
}

func (b *slogBridge) Warningf(format string, args ...interface{}) {
	b.l.Warn(trim(format, args))
}

func (b *slogBridge) Infof(format string, args ...interface{}) {
	b.l.Debug(trim(format, args))
}

func (b *slogBridge) Debugf(format string, args ...interface{}) {
	b.l.Debug(trim(format, args))
}

func trim(format string, args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
