// Package kaddht 提供开箱即用的 Kademlia DHT 节点
//
// Node 通过 fx 组装以下组件：
//   - identity: 节点密钥（密钥文件或临时生成）
//   - storage: BadgerDB 数据存储
//   - peerstore: 地址簿与公钥簿
//   - host: TCP + yamux 连接管理
//   - discovery/dht: Kademlia DHT
//
// 快速开始：
//
//	node, err := kaddht.Start(ctx,
//	    kaddht.WithListenAddrs("/ip4/0.0.0.0/tcp/4001"),
//	    kaddht.WithBootstrapPeers("/ip4/1.2.3.4/tcp/4001/p2p/12D3KooW..."),
//	    kaddht.WithValidator("v", kaddht.Validator{Sign: true}),
//	)
//	if err != nil {
//	    return err
//	}
//	defer node.Close()
//
//	node.Put(ctx, "/v/hello", []byte("world"))
//	val, err := node.Get(ctx, "/v/hello")
//
// 内容路由使用 CID：
//
//	c, _ := kaddht.CIDFromData(data)
//	node.Provide(ctx, c)
//	providers, _ := node.FindProviders(ctx, c)
package kaddht
