package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/braingenix/bglog/internal/engine"
	"github.com/braingenix/bglog/internal/model"
	"github.com/braingenix/bglog/internal/pkg/match"
	"github.com/braingenix/bglog/internal/sqlstore"
)

func newPullCmd(a *app) *cobra.Command {
	var (
		q        sqlstore.Query
		minLevel string
		filter   string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Print the most recent records from the central store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if minLevel != "" {
				lvl, ok := model.ParseLevel(minLevel)
				if !ok {
					return fmt.Errorf("unknown level %q", minLevel)
				}
				q.MinLevel = &lvl
			}
			expr, err := match.Parse(filter)
			if err != nil {
				return fmt.Errorf("--match: %w", err)
			}

			l, _, err := a.openLogger(cmd.Context(), false)
			if err != nil {
				return err
			}
			rows, pullErr := l.PullLogWhere(cmd.Context(), q)
			if err := l.CleanExit(cmd.Context()); err != nil && pullErr == nil {
				pullErr = err
			}
			if pullErr != nil {
				return pullErr
			}
			rows = match.Filter(expr, rows)

			if asJSON {
				return writeRowsJSON(cmd.OutOrStdout(), rows)
			}
			for _, r := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%8d %-16s %s", r.ID, r.NodeID, engine.FormatLine(r.Record))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&q.Limit, "count", "n", 20, "Number of records")
	f.StringVar(&q.Node, "node", "", "Only records from this node")
	f.StringVar(&q.Module, "module", "", "Only records from this module")
	f.StringVar(&minLevel, "min-level", "", "Only records at or above this level")
	f.StringVar(&filter, "match", "", `Filter the fetched records, e.g. 'fn:Connect AND NOT "retry"'`)
	f.BoolVar(&asJSON, "json", false, "Print JSON lines")
	return cmd
}

type rowJSON struct {
	ID       int64  `json:"id"`
	Level    int    `json:"level"`
	Time     string `json:"time"`
	Module   string `json:"module"`
	Function string `json:"function"`
	Message  string `json:"message"`
	Node     string `json:"node"`
}

func writeRowsJSON(w io.Writer, rows []model.StoredRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(rowJSON{
			ID:       r.ID,
			Level:    int(r.Level),
			Time:     r.Timestamp.Format(sqlstore.TimeLayout),
			Module:   r.Module,
			Function: r.Function,
			Message:  r.Message,
			Node:     r.NodeID,
		}); err != nil {
			return err
		}
	}
	return nil
}
