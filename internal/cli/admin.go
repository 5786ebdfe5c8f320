package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/braingenix/bglog/internal/sqlstore"
)

func newNodesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "Summarize stored records per node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(conn *sqlstore.Conn) error {
				nodes, err := conn.Nodes(cmd.Context())
				if err != nil {
					return err
				}
				for _, n := range nodes {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %10d  %s\n", n.Node, n.Records, n.Last.Format(sqlstore.TimeLayout))
				}
				return nil
			})
		},
	}
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the log table if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(conn *sqlstore.Conn) error {
				if err := conn.EnsureSchema(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "table %s ready\n", a.cfg.Store.Table)
				return nil
			})
		},
	}
}

func newPurgeCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored records older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			before := time.Now().Add(-olderThan)
			return a.withStore(cmd.Context(), func(conn *sqlstore.Conn) error {
				n, err := conn.Purge(cmd.Context(), before)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d records written before %s\n", n, before.UTC().Format(sqlstore.TimeLayout))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age of the oldest record to keep, e.g. 720h")
	return cmd
}
