package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/braingenix/bglog/internal/model"
)

func newLogCmd(a *app) *cobra.Command {
	var level, module, function string

	cmd := &cobra.Command{
		Use:   "log [flags] message...",
		Short: "Write one record through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, ok := model.ParseLevel(level)
			if !ok {
				return fmt.Errorf("unknown level %q", level)
			}

			l, _, err := a.openLogger(cmd.Context(), true)
			if err != nil {
				return err
			}
			l.Log(model.Site(module, function), strings.Join(args, " "), lvl)
			return l.CleanExit(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&level, "level", "l", "info", "Level name or number")
	cmd.Flags().StringVarP(&module, "module", "m", "cli", "Calling module")
	cmd.Flags().StringVarP(&function, "function", "f", "log", "Calling function")
	return cmd
}
