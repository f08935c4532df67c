package host

import (
	"crypto/rand"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	mss "github.com/multiformats/go-multistream"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/lib/msgio"
	"github.com/dep2p/go-kaddht/pkg/types"
)

const (
	nonceSize    = 32
	maxHelloSize = 64 << 10

	// helloSignPrefix 签名域分隔前缀
	helloSignPrefix = "kaddht-hello:"
)

// hello 字段编号
const (
	fieldHelloPubKey    protowire.Number = 1
	fieldHelloAddrs     protowire.Number = 2
	fieldHelloSignature protowire.Number = 3
)

// hello 握手消息
//
// Signature 是发送方对 helloSignPrefix || 对端 nonce || PubKey 的签名，
// 证明发送方持有 PubKey 对应的私钥。
type hello struct {
	PubKey    []byte
	Addrs     []ma.Multiaddr
	Signature []byte
}

func (m *hello) marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldHelloPubKey, protowire.BytesType)
	buf = protowire.AppendBytes(buf, m.PubKey)
	for _, a := range m.Addrs {
		buf = protowire.AppendTag(buf, fieldHelloAddrs, protowire.BytesType)
		buf = protowire.AppendBytes(buf, a.Bytes())
	}
	buf = protowire.AppendTag(buf, fieldHelloSignature, protowire.BytesType)
	buf = protowire.AppendBytes(buf, m.Signature)
	return buf
}

func unmarshalHello(data []byte) (*hello, error) {
	m := &hello{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHello, protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrInvalidHello, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHello, protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldHelloPubKey:
			m.PubKey = v
		case fieldHelloAddrs:
			// 无法解析的地址直接忽略
			if a, err := ma.NewMultiaddrBytes(v); err == nil {
				m.Addrs = append(m.Addrs, a)
			}
		case fieldHelloSignature:
			m.Signature = v
		}
	}
	return m, nil
}

func helloSigningBytes(nonce, pubKey []byte) []byte {
	out := make([]byte, 0, len(helloSignPrefix)+len(nonce)+len(pubKey))
	out = append(out, helloSignPrefix...)
	out = append(out, nonce...)
	return append(out, pubKey...)
}

// handshakeResult 握手结果
type handshakeResult struct {
	peer   types.PeerID
	pubKey crypto.PublicKey
	addrs  []ma.Multiaddr
}

// handshake 在裸连接上完成身份握手与多路复用协商
//
// 调用方负责设置连接超时。
func (h *Host) handshake(conn net.Conn, isServer bool) (*handshakeResult, error) {
	if err := negotiate(conn, HandshakeProtocol, isServer); err != nil {
		return nil, fmt.Errorf("negotiate handshake: %w", err)
	}

	reader := msgio.NewReader(conn, maxHelloSize)

	// 1. 交换 nonce
	localNonce := make([]byte, nonceSize)
	if _, err := rand.Read(localNonce); err != nil {
		return nil, err
	}
	if err := msgio.WriteMsg(conn, localNonce); err != nil {
		return nil, err
	}
	remoteNonce, err := reader.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	if len(remoteNonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad nonce size %d", ErrInvalidHello, len(remoteNonce))
	}

	// 2. 交换签名 hello
	pubBytes, err := crypto.MarshalPublicKey(h.identity.PublicKey())
	if err != nil {
		return nil, err
	}
	sig, err := h.identity.Sign(helloSigningBytes(remoteNonce, pubBytes))
	if err != nil {
		return nil, err
	}
	local := &hello{PubKey: pubBytes, Addrs: h.Addrs(), Signature: sig}
	if err := msgio.WriteMsg(conn, local.marshal()); err != nil {
		return nil, err
	}

	data, err := reader.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	remote, err := unmarshalHello(data)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.UnmarshalPublicKey(remote.PubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHello, err)
	}
	ok, err := pub.Verify(helloSigningBytes(localNonce, remote.PubKey), remote.Signature)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidHello)
	}
	peer, err := crypto.PeerIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}

	// 3. 协商多路复用
	if err := negotiate(conn, YamuxProtocol, isServer); err != nil {
		return nil, fmt.Errorf("negotiate muxer: %w", err)
	}

	return &handshakeResult{peer: peer, pubKey: pub, addrs: remote.Addrs}, nil
}

// negotiate 使用 multistream-select 协商单个协议
//
// 服务端使用 MultistreamMuxer.Negotiate()，客户端使用 SelectProtoOrFail()。
func negotiate(conn net.Conn, proto string, isServer bool) error {
	if !isServer {
		return mss.SelectProtoOrFail(proto, conn)
	}
	m := mss.NewMultistreamMuxer[string]()
	m.AddHandler(proto, nil)
	_, _, err := m.Negotiate(conn)
	return err
}
