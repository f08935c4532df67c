// Package cmd 实现 kaddht 命令行
//
// 子命令：
//   - run: 启动 DHT 节点
//   - keygen: 生成节点密钥文件
//   - version: 打印版本
//
// 所有 run 参数均可通过 KADDHT_ 前缀的环境变量设置，例如 KADDHT_LISTEN。
package cmd

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dep2p/go-kaddht/config"
)

func init() {
	cobra.EnableCommandSorting = false
}

type command struct {
	root   *cobra.Command
	config *viper.Viper
}

// Option 命令选项
type Option func(*command)

// WithArgs 设置命令行参数
func WithArgs(a ...string) Option {
	return func(c *command) {
		c.root.SetArgs(a)
	}
}

// WithOutput 设置标准输出与错误输出
func WithOutput(w io.Writer) Option {
	return func(c *command) {
		c.root.SetOut(w)
		c.root.SetErr(w)
	}
}

// newCommand 创建根命令
func newCommand(opts ...Option) *command {
	c := &command{
		root: &cobra.Command{
			Use:           "kaddht",
			Short:         "Kademlia DHT node",
			SilenceErrors: true,
			SilenceUsage:  true,
		},
		config: newViper(),
	}
	c.root.PersistentFlags().String(config.KeyConfigFile, "", "JSON config file")

	c.initRunCmd()
	c.initKeygenCmd()
	c.initVersionCmd()

	for _, o := range opts {
		o(c)
	}
	return c
}

// Execute 执行命令
func (c *command) Execute() error {
	return c.root.Execute()
}

// ExecuteContext 带上下文执行命令
func (c *command) ExecuteContext(ctx context.Context) error {
	return c.root.ExecuteContext(ctx)
}

// Execute 解析命令行参数并执行
func Execute() error {
	return newCommand().Execute()
}

// newViper 创建读取 KADDHT_ 环境变量的 viper 实例
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return v
}

// bindFlags 将命令及全局参数绑定到 viper
func (c *command) bindFlags(cmd *cobra.Command) error {
	if err := c.config.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return c.config.BindPFlags(c.root.PersistentFlags())
}
