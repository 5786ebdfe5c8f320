package sqlstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrInvalidConfig is returned for missing or malformed store parameters.
var ErrInvalidConfig = errors.New("invalid store configuration")

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	DefaultTable = "log"
)

// Config holds the connection parameters of the central log store.
type Config struct {
	Driver   string
	Username string
	Password string
	Host     string
	Database string // database name, or file path for sqlite
	Table    string
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverMySQL
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Validate checks that every parameter the driver needs is present.
func (c Config) Validate() error {
	c = c.withDefaults()

	if !ValidIdentifier(c.Table) {
		return fmt.Errorf("%w: table name %q is not a plain identifier", ErrInvalidConfig, c.Table)
	}

	switch c.Driver {
	case DriverMySQL:
		var missing []string
		if c.Username == "" {
			missing = append(missing, "username")
		}
		if c.Host == "" {
			missing = append(missing, "host")
		}
		if c.Database == "" {
			missing = append(missing, "database")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
		}
	case DriverSQLite:
		if c.Database == "" {
			return fmt.Errorf("%w: missing database file", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, c.Driver)
	}
	return nil
}

// mysqlConfig builds the driver configuration. The password never passes
// through a formatted DSN string.
func (c Config) mysqlConfig() *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = c.Username
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.Host
	mc.DBName = c.Database
	mc.Timeout = c.Timeout
	mc.ReadTimeout = c.Timeout
	mc.WriteTimeout = c.Timeout
	return mc
}

func (c Config) sqliteDSN() string {
	return "file:" + c.Database + "?_pragma=busy_timeout(5000)"
}
