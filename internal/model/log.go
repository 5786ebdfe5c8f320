package model

import "time"

// CallSite identifies where a record was produced. Callers pass it
// explicitly on every Log call.
type CallSite struct {
	Module   string
	Function string
}

// Site is shorthand for building a CallSite.
func Site(module, function string) CallSite {
	return CallSite{Module: module, Function: function}
}

// Record represents a structured log entry.
// It is created once by the logger and never modified afterwards; the same
// value flows to the local file, the record channel and the central store.
type Record struct {
	Level     Level
	Timestamp time.Time
	Module    string
	Function  string
	Message   string
	NodeID    string
}

// StoredRecord is a Record read back from the central store together with
// the identifier the store assigned to it.
type StoredRecord struct {
	ID int64
	Record
}

// Stamp normalizes a time to the precision kept by the central store so a
// record read back compares equal to the one written.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
