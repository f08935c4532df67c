package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dep2p/go-kaddht/internal/core/identity"
)

const optionNameForce = "force"

func (c *command) initKeygenCmd() {
	cmd := &cobra.Command{
		Use:   "keygen <key-file>",
		Short: "Generate a node private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			force, err := cmd.Flags().GetBool(optionNameForce)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("key file %s already exists, use --%s to overwrite", path, optionNameForce)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			id, err := identity.Generate()
			if err != nil {
				return err
			}
			if err := identity.SavePrivateKey(id.PrivateKey(), path); err != nil {
				return err
			}
			cmd.Println(id.PeerID().String())
			return nil
		},
	}
	cmd.Flags().Bool(optionNameForce, false, "overwrite an existing key file")
	c.root.AddCommand(cmd)
}
