package host

import (
	"context"
	"fmt"

	"github.com/hashicorp/yamux"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// conn 已升级的连接
type conn struct {
	remote     types.PeerID
	remoteAddr ma.Multiaddr
	outbound   bool
	raw        manet.Conn
	session    *yamux.Session
}

// openStream 打开新流
//
// yamux 的 OpenStream 不支持 context，在单独的 goroutine 中处理。
func (c *conn) openStream(ctx context.Context) (*stream, error) {
	type result struct {
		s   *yamux.Stream
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		s, err := c.session.OpenStream()
		resultCh <- result{s: s, err: err}
	}()

	select {
	case <-ctx.Done():
		// 关闭迟到的流以防止泄漏
		go func() {
			if r := <-resultCh; r.s != nil {
				_ = r.s.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("open stream: %w", r.err)
		}
		return newStream(r.s, c.remote), nil
	}
}

func (c *conn) alive() bool {
	return !c.session.IsClosed()
}

func (c *conn) close() error {
	return c.session.Close()
}
