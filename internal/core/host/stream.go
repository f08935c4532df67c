package host

import (
	"sync/atomic"

	"github.com/hashicorp/yamux"

	"github.com/dep2p/go-kaddht/pkg/interfaces"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// stream 封装 yamux.Stream，实现 interfaces.Stream
type stream struct {
	*yamux.Stream

	remote   types.PeerID
	protocol atomic.Value // types.ProtocolID
	closed   atomic.Bool
}

var _ interfaces.Stream = (*stream)(nil)

func newStream(s *yamux.Stream, remote types.PeerID) *stream {
	return &stream{Stream: s, remote: remote}
}

// Close 关闭流
func (s *stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.Stream.Close()
}

// Reset 重置流
//
// yamux 没有独立的 RST 操作，使用 Close 代替。
func (s *stream) Reset() error {
	return s.Close()
}

// RemotePeer 返回对端 PeerID
func (s *stream) RemotePeer() types.PeerID {
	return s.remote
}

// Protocol 返回协商后的协议
func (s *stream) Protocol() types.ProtocolID {
	p, _ := s.protocol.Load().(types.ProtocolID)
	return p
}

func (s *stream) setProtocol(p types.ProtocolID) {
	s.protocol.Store(p)
}
