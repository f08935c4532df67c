package peerstore

import (
	"math"
	"time"
)

// 地址 TTL 常量
const (
	// PermanentAddrTTL 永久地址（如引导节点）
	PermanentAddrTTL = time.Duration(math.MaxInt64 - 1)

	// ConnectedAddrTTL 连接成功的地址（30 分钟）
	ConnectedAddrTTL = 30 * time.Minute

	// ProviderAddrTTL 随 Provider 记录获得的地址（30 分钟）
	ProviderAddrTTL = 30 * time.Minute

	// DiscoveredAddrTTL DHT 查询发现的地址（10 分钟）
	DiscoveredAddrTTL = 10 * time.Minute

	// TempAddrTTL 临时地址（2 分钟）
	TempAddrTTL = 2 * time.Minute
)
