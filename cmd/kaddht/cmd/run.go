package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	kaddht "github.com/dep2p/go-kaddht"
	"github.com/dep2p/go-kaddht/config"
	"github.com/dep2p/go-kaddht/pkg/lib/log"
)

const optionNameProvide = "provide"

var logger = log.Logger("cmd/kaddht")

func (c *command) initRunCmd() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a DHT node",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.config)
			if err != nil {
				return err
			}
			if err := setupLogging(cmd, cfg.Log); err != nil {
				return err
			}

			provides, err := parseCIDs(c.config.GetStringSlice(optionNameProvide))
			if err != nil {
				return err
			}
			return runNode(cmd, cfg, provides)
		},
	}

	d := config.NewConfig()
	f := cmd.Flags()
	f.String(config.KeyKeyFile, "", "private key file, generated when missing (default: ephemeral key)")
	f.StringSlice(config.KeyListen, d.Network.Listen, "listen multiaddrs")
	f.StringSlice(config.KeyBootstrap, nil, "bootstrap peer multiaddrs with /p2p/<peer-id>")
	f.String(config.KeyDataDir, "", "data directory (default: in-memory storage)")
	f.Bool(config.KeyInMemory, d.Storage.InMemory, "use in-memory storage")
	f.String(config.KeyLogLevel, d.Log.Level, "log level: debug, info, warn, error")
	f.String(config.KeyLogFormat, d.Log.Format, "log format: text, json")
	f.String(config.KeyMetricsAddr, "", "expose Prometheus metrics on this address")
	f.Int(config.KeyBucketSize, d.DHT.BucketSize, "routing table bucket size (k)")
	f.Int(config.KeyAlpha, d.DHT.Alpha, "query concurrency (alpha)")
	f.Bool(config.KeyRandomWalk, d.DHT.RandomWalk.Enabled, "periodically look up random peers")
	f.StringSlice(optionNameProvide, nil, "CIDs to announce after startup")

	c.root.AddCommand(cmd)
}

// runNode 启动节点并阻塞到收到退出信号
func runNode(cmd *cobra.Command, cfg *config.Config, provides []cid.Cid) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := kaddht.Start(ctx, kaddht.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("关闭节点失败", "error", err)
		}
	}()

	cmd.Printf("peer id: %s\n", node.ID())
	for _, a := range node.ShareableAddrs() {
		cmd.Printf("listening on %s\n", a)
	}
	if addr := node.MetricsAddr(); addr != "" {
		cmd.Printf("metrics on http://%s/metrics\n", addr)
	}

	for _, p := range provides {
		go provide(ctx, node, p)
	}

	<-ctx.Done()
	logger.Info("收到退出信号，正在关闭")
	return nil
}

// provide 宣告一个 CID，失败只记录日志
func provide(ctx context.Context, node *kaddht.Node, c cid.Cid) {
	pctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := node.Provide(pctx, c); err != nil {
		logger.Warn("宣告内容失败", "cid", c.String(), "error", err)
		return
	}
	logger.Info("已宣告内容", "cid", c.String())
}

// parseCIDs 解析 CID 列表
func parseCIDs(ss []string) ([]cid.Cid, error) {
	out := make([]cid.Cid, 0, len(ss))
	for _, s := range ss {
		c, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cid %q: %w", s, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// setupLogging 按配置重建默认 logger，输出到命令错误输出
func setupLogging(cmd *cobra.Command, cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.Setup(cmd.ErrOrStderr(), log.Format(cfg.Format), level)
	return nil
}
