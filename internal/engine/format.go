package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/braingenix/bglog/internal/model"
)

// FileTimeLayout is the timestamp layout of the local log file.
const FileTimeLayout = "2006-01-02_15-04-05"

var lineEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`)

// FormatLine renders a record in the fixed-width layout of the local file.
// Line breaks inside the message are escaped so one record is one line.
func FormatLine(r model.Record) string {
	return fmt.Sprintf("[%5s] [%19s] [%16s] [%19s] %s\n",
		strconv.Itoa(int(r.Level)),
		r.Timestamp.UTC().Format(FileTimeLayout),
		r.Module,
		r.Function,
		lineEscaper.Replace(r.Message),
	)
}
