package interfaces

import (
	"context"

	"github.com/dep2p/go-kaddht/pkg/lib/crypto"
	"github.com/dep2p/go-kaddht/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
// DHT 接口
// ════════════════════════════════════════════════════════════════════════════

// DHT 定义 Kademlia 分布式哈希表的对外能力
//
// 实现位置：internal/discovery/dht/
//
// 使用示例:
//
//	d, _ := dht.New(h, ds)
//	d.Start(ctx)
//	defer d.Close()
//
//	d.Put(ctx, "/v/key", []byte("value"))
//	val, _ := d.Get(ctx, "/v/key")
type DHT interface {
	ValueStore
	ContentRouting
	PeerRouting

	// Start 启动 DHT
	Start(ctx context.Context) error

	// Stop 停止 DHT
	Stop(ctx context.Context) error

	// Bootstrap 通过查找自身刷新路由表
	Bootstrap(ctx context.Context) error
}

// ValueStore 键值存储
type ValueStore interface {
	// Put 存储记录到本地并复制到距离最近的节点
	Put(ctx context.Context, key string, value []byte) error

	// Get 查询记录，返回选择器选出的最佳值
	Get(ctx context.Context, key string) ([]byte, error)

	// GetPublicKey 获取节点公钥
	GetPublicKey(ctx context.Context, p types.PeerID) (crypto.PublicKey, error)
}

// ContentRouting 内容路由
type ContentRouting interface {
	// Provide 宣告本节点提供 cid
	Provide(ctx context.Context, cid []byte) error

	// FindProviders 查找 cid 的提供者
	FindProviders(ctx context.Context, cid []byte) ([]types.PeerInfo, error)
}

// PeerRouting 节点路由
type PeerRouting interface {
	// FindPeer 查找节点地址
	FindPeer(ctx context.Context, id types.PeerID) (types.PeerInfo, error)

	// GetClosestPeers 返回距离 key 最近的 K 个节点
	GetClosestPeers(ctx context.Context, key []byte) ([]types.PeerID, error)
}
