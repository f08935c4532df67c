// Package msgio 提供 uvarint 长度前缀的消息帧读写
//
// 帧格式：uvarint(len) || payload
//
// 读取端遇到超过上限的帧时会把负载读完并丢弃，返回 ErrMsgTooLarge，
// 流的读位置仍停在下一帧开头，调用方可以继续读取。
package msgio

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/multiformats/go-varint"
)

var (
	// ErrMsgTooLarge 帧长度超过上限
	ErrMsgTooLarge = errors.New("msgio: message too large")

	// ErrInvalidLength 帧长度无法丢弃，流需要关闭
	ErrInvalidLength = errors.New("msgio: invalid message length")
)

// WriteMsg 写入一帧
//
// 前缀与负载在同一次 Write 中写出。
func WriteMsg(w io.Writer, msg []byte) error {
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(msg)))+len(msg))
	buf = append(buf, varint.ToUvarint(uint64(len(msg)))...)
	buf = append(buf, msg...)
	_, err := w.Write(buf)
	return err
}

// Reader 帧读取器
type Reader struct {
	r   io.Reader
	br  io.ByteReader
	max int
}

// NewReader 创建帧读取器
//
// max 为允许的最大帧长度（不含），长度 >= max 的帧被丢弃。
// 如果 r 不实现 io.ByteReader，前缀逐字节读取，不会多读后续数据。
func NewReader(r io.Reader, max int) *Reader {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}
	return &Reader{r: r, br: br, max: max}
}

// ReadMsg 读取一帧
func (mr *Reader) ReadMsg() ([]byte, error) {
	length, err := varint.ReadUvarint(mr.br)
	if err != nil {
		return nil, err
	}
	if length > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if length >= uint64(mr.max) {
		if _, err := io.CopyN(io.Discard, mr.r, int64(length)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrMsgTooLarge, length)
	}

	msg := make([]byte, length)
	if _, err := io.ReadFull(mr.r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}

// byteReader 逐字节读取
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}
