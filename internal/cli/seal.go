package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/braingenix/bglog/internal/pkg/security"
)

func newSealCmd(a *app) *cobra.Command {
	var hash bool

	cmd := &cobra.Command{
		Use:   "seal <secret>",
		Short: "Seal a store password, or hash a status server password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hash {
				h, err := security.HashPassword(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), h)
				return nil
			}

			kr, created, err := security.LoadKeyring(a.cfg.Store.KeyFile, true)
			if err != nil {
				return err
			}
			if created {
				a.diag.Info("generated new master key", "path", a.cfg.Store.KeyFile)
			}
			sealed, err := kr.Seal(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&hash, "hash", false, "Print a bcrypt hash for metrics.password_hash instead")
	return cmd
}
