package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/braingenix/bglog/internal/model"
)

// TimeLayout is how LogDatetime is written to and read from the store.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Query selects rows for Recent. Zero values mean "no restriction".
type Query struct {
	Limit    int
	Node     string
	Module   string
	MinLevel *model.Level
}

// NodeSummary describes what one node has shipped to the store.
type NodeSummary struct {
	Node    string
	Records int64
	Last    time.Time
}

// Conn is a store connection checked out of a Pool.
type Conn struct {
	conn *sql.Conn
	pool *Pool

	releaseOnce sync.Once
	releaseErr  error
}

// Release returns the connection. Only the first call has any effect.
func (c *Conn) Release() error {
	c.releaseOnce.Do(func() {
		c.releaseErr = c.conn.Close()
	})
	return c.releaseErr
}

// EnsureSchema creates the log table if it does not exist.
func (c *Conn) EnsureSchema(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, c.pool.dialect.createTable(c.pool.table)); err != nil {
		return fmt.Errorf("create table %s: %w", c.pool.table, err)
	}
	return nil
}

// InsertBatch writes records in one transaction, in slice order.
func (c *Conn) InsertBatch(ctx context.Context, records []model.Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, c.pool.dialect.insert(c.pool.table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx,
			int(r.Level),
			r.Timestamp.UTC().Format(TimeLayout),
			r.Module,
			r.Function,
			r.Message,
			r.NodeID,
		); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns up to q.Limit rows, newest first.
func (c *Conn) Recent(ctx context.Context, q Query) ([]model.StoredRecord, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", q.Limit)
	}

	var (
		where []string
		args  []any
	)
	if q.Node != "" {
		where = append(where, "Node = ?")
		args = append(args, q.Node)
	}
	if q.Module != "" {
		where = append(where, "CallingModule = ?")
		args = append(args, q.Module)
	}
	if q.MinLevel != nil {
		where = append(where, "LogLevel >= ?")
		args = append(args, int(*q.MinLevel))
	}

	var sb strings.Builder
	sb.WriteString("SELECT LogId, LogLevel, LogDatetime, CallingModule, FunctionName, LogOutput, Node FROM ")
	sb.WriteString(c.pool.dialect.quote(c.pool.table))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY LogId DESC LIMIT ?")
	args = append(args, q.Limit)

	rows, err := c.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select recent: %w", err)
	}
	defer rows.Close()

	var out []model.StoredRecord
	for rows.Next() {
		var (
			sr    model.StoredRecord
			level int
			ts    string
		)
		if err := rows.Scan(&sr.ID, &level, &ts, &sr.Module, &sr.Function, &sr.Message, &sr.NodeID); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		sr.Level = model.Level(level)
		if sr.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Purge deletes rows written before the given time and reports how many
// were removed.
func (c *Conn) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE LogDatetime < ?", c.pool.dialect.quote(c.pool.table)),
		before.UTC().Format(TimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}

// Nodes summarizes the rows held for each node.
func (c *Conn) Nodes(ctx context.Context) ([]NodeSummary, error) {
	rows, err := c.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT Node, COUNT(*), MAX(LogDatetime) FROM %s GROUP BY Node ORDER BY Node",
		c.pool.dialect.quote(c.pool.table),
	))
	if err != nil {
		return nil, fmt.Errorf("select nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeSummary
	for rows.Next() {
		var (
			ns   NodeSummary
			last string
		)
		if err := rows.Scan(&ns.Node, &ns.Records, &last); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if ns.Last, err = parseTime(last); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

// parseTime accepts the layout written by InsertBatch as well as the
// shorter form MySQL returns for DATETIME columns without fractions.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable LogDatetime %q", s)
}
