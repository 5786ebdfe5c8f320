package model

import (
	"strconv"
	"strings"
)

// Level is the severity of a record. Values 0-3 are reserved; anything else
// is accepted and left unclassified for caller-defined use.
type Level int

const (
	LevelInfo    Level = 0
	LevelWarning Level = 1
	LevelError   Level = 2 // non-fatal
	LevelFatal   Level = 3
)

// Reserved reports whether the level is one of the four classified levels.
func (l Level) Reserved() bool {
	return l >= LevelInfo && l <= LevelFatal
}

// String returns the level name, or its number when unclassified.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return strconv.Itoa(int(l))
	}
}

// ParseLevel converts a level name or number to a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarning, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return Level(n), true
}
