package cmd

import (
	"github.com/spf13/cobra"

	kaddht "github.com/dep2p/go-kaddht"
)

func (c *command) initVersionCmd() {
	v := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(kaddht.VersionInfo())
		},
	}
	c.root.AddCommand(v)
}
