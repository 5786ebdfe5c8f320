package cli

import (
	"github.com/spf13/cobra"

	"github.com/braingenix/bglog/internal/pkg/security"
)

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			if p := cfg.Store.Password; p != "" && !security.IsSealed(p) {
				cfg.Store.Password = "<redacted>"
			}
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
