package dht

import (
	"bytes"
	"encoding/hex"
	"math/bits"
	"sort"

	sha256 "github.com/minio/sha256-simd"

	"github.com/dep2p/go-kaddht/pkg/types"
)

// KeyBits Key 的位数
const KeyBits = 256

// Key 路由空间中的 256 位标识
type Key [32]byte

// ConvertPeerID 将节点 ID 映射到路由空间
func ConvertPeerID(p types.PeerID) Key {
	return sha256.Sum256([]byte(p))
}

// ConvertKey 将任意键映射到路由空间
func ConvertKey(b []byte) Key {
	return sha256.Sum256(b)
}

// Xor 返回两个 Key 的按位异或
func (k Key) Xor(o Key) Key {
	var d Key
	for i := range k {
		d[i] = k[i] ^ o[i]
	}
	return d
}

// Compare 按大端无符号整数比较
func (k Key) Compare(o Key) int {
	return bytes.Compare(k[:], o[:])
}

// String 返回十六进制表示
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Distance 返回 a 与 b 的距离
func Distance(a, b Key) Key {
	return a.Xor(b)
}

// CompareDistance 比较 a、b 到 target 的距离
//
// 返回 -1 表示 a 更近，1 表示 b 更近，0 表示相等。
func CompareDistance(a, b, target Key) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// CommonPrefixLen 返回公共前缀位数
func CommonPrefixLen(a, b Key) int {
	for i := range a {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return KeyBits
}

// SortByDistance 按到 target 的距离升序排序节点（原地）
func SortByDistance(peers []types.PeerID, target Key) []types.PeerID {
	keys := make(map[types.PeerID]Key, len(peers))
	for _, p := range peers {
		keys[p] = ConvertPeerID(p)
	}
	sort.SliceStable(peers, func(i, j int) bool {
		return CompareDistance(keys[peers[i]], keys[peers[j]], target) < 0
	})
	return peers
}
