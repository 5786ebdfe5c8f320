package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Pool hands out dedicated connections to the central log store. Every
// goroutine that talks to the store checks out its own Conn and releases it
// when done; connections are never shared.
type Pool struct {
	db      *sql.DB
	dialect dialect
	table   string

	closeOnce sync.Once
	closeErr  error
}

// Open creates a pool for cfg. No connection is made until the pool is
// pinged or a connection is checked out.
func Open(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var db *sql.DB
	switch cfg.Driver {
	case DriverMySQL:
		connector, err := mysql.NewConnector(cfg.mysqlConfig())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		db = sql.OpenDB(connector)
	case DriverSQLite:
		var err error
		db, err = sql.Open("sqlite", cfg.sqliteDSN())
		if err != nil {
			return nil, err
		}
	}

	return NewPool(db, cfg.Driver, cfg.Table)
}

// NewPool wraps an existing database handle.
func NewPool(db *sql.DB, driver, table string) (*Pool, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = DefaultTable
	}
	if !ValidIdentifier(table) {
		return nil, fmt.Errorf("%w: table name %q is not a plain identifier", ErrInvalidConfig, table)
	}
	return &Pool{db: db, dialect: d, table: table}, nil
}

// Table returns the name of the log table.
func (p *Pool) Table() string {
	return p.table
}

// Ping verifies the store is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Checkout reserves a connection for the caller's exclusive use.
func (p *Pool) Checkout(ctx context.Context) (*Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c, pool: p}, nil
}

// Close closes the pool. Only the first call has any effect.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.db.Close()
	})
	return p.closeErr
}
