package msgio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReadWrite 测试帧读写
func TestReadWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMsg(&buf, []byte("hello")))
	require.NoError(t, WriteMsg(&buf, nil))
	require.NoError(t, WriteMsg(&buf, bytes.Repeat([]byte{1}, 300)))

	r := NewReader(&buf, 1024)
	msg, err := r.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg)

	msg, err = r.ReadMsg()
	require.NoError(t, err)
	assert.Empty(t, msg)

	msg, err = r.ReadMsg()
	require.NoError(t, err)
	assert.Len(t, msg, 300)

	_, err = r.ReadMsg()
	assert.ErrorIs(t, err, io.EOF)
}

// TestReadMsg_TooLarge 测试超限帧被丢弃且后续帧可读
func TestReadMsg_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMsg(&buf, make([]byte, 16)))
	require.NoError(t, WriteMsg(&buf, []byte("next")))

	r := NewReader(&buf, 16)
	_, err := r.ReadMsg()
	assert.ErrorIs(t, err, ErrMsgTooLarge)

	msg, err := r.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), msg)
}

// TestReadMsg_Truncated 测试截断的帧
func TestReadMsg_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMsg(&buf, []byte("truncated")))
	data := buf.Bytes()[:4]

	r := NewReader(io.MultiReader(bytes.NewReader(data)), 1024)
	_, err := r.ReadMsg()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// TestByteReader 测试不多读后续数据
func TestByteReader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMsg(&buf, []byte("a")))
	buf.WriteString("rest")

	// 隐藏 bytes.Buffer 的 ReadByte
	src := struct{ io.Reader }{&buf}
	r := NewReader(src, 1024)
	msg, err := r.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), msg)

	rest, err := io.ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, "rest", string(rest))
}

// TestReadMsg_HugeLength 测试超出可丢弃范围的长度前缀返回错误
func TestReadMsg_HugeLength(t *testing.T) {
	// uvarint(1<<63)
	prefix := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	r := NewReader(bytes.NewReader(append(prefix, []byte("tail")...)), 16)

	_, err := r.ReadMsg()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMsgTooLarge)
}
