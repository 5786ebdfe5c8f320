package sqlstore

import "fmt"

// dialect captures the few places where the supported drivers disagree.
type dialect struct {
	name    string
	quote   func(ident string) string
	idType  string
	timeTyp string
	textTyp string
}

var dialects = map[string]dialect{
	DriverMySQL: {
		name:    DriverMySQL,
		quote:   func(s string) string { return "`" + s + "`" },
		idType:  "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
		timeTyp: "DATETIME(6) NOT NULL",
		textTyp: "TEXT NOT NULL",
	},
	DriverSQLite: {
		name:    DriverSQLite,
		quote:   func(s string) string { return `"` + s + `"` },
		idType:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		timeTyp: "TEXT NOT NULL",
		textTyp: "TEXT NOT NULL",
	},
}

func lookupDialect(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, driver)
	}
	return d, nil
}

func (d dialect) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	LogId %s,
	LogLevel INTEGER NOT NULL,
	LogDatetime %s,
	CallingModule VARCHAR(255) NOT NULL,
	FunctionName VARCHAR(255) NOT NULL,
	LogOutput %s,
	Node VARCHAR(255) NOT NULL
)`, d.quote(table), d.idType, d.timeTyp, d.textTyp)
}

func (d dialect) insert(table string) string {
	return fmt.Sprintf("INSERT INTO %s (LogLevel, LogDatetime, CallingModule, FunctionName, LogOutput, Node) VALUES (?, ?, ?, ?, ?, ?)", d.quote(table))
}
