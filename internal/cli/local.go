package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/braingenix/bglog/internal/storage"
)

func newLocalCmd(a *app) *cobra.Command {
	var (
		file     string
		tail     int
		archives bool
	)

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Print lines of the local log file or one of its archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if archives {
				paths, err := storage.ListArchives(a.cfg.Logger.Dir, a.cfg.Logger.File)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintln(out, p)
				}
				return nil
			}

			if file == "" {
				file = filepath.Join(a.cfg.Logger.Dir, a.cfg.Logger.File)
			}
			lines, err := storage.ReadLines(file)
			if err != nil {
				return err
			}
			for _, line := range storage.Tail(lines, tail) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&file, "file", "", "File to read, plain or compressed (default: active log file)")
	f.IntVarP(&tail, "count", "n", 0, "Only the last n lines, 0 prints everything")
	f.BoolVar(&archives, "archives", false, "List rotated archives instead")
	return cmd
}
