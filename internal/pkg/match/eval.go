package match

import (
	"fmt"
	"strings"

	"github.com/braingenix/bglog/internal/model"
)

var fields = map[string]func(model.Record) string{
	"module":   func(r model.Record) string { return r.Module },
	"function": func(r model.Record) string { return r.Function },
	"message":  func(r model.Record) string { return r.Message },
	"node":     func(r model.Record) string { return r.NodeID },
	"level":    func(r model.Record) string { return r.Level.String() },
}

var aliases = map[string]string{
	"mod": "module",
	"fn":  "function",
	"msg": "message",
	"lvl": "level",
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	if full, ok := aliases[k]; ok {
		return full
	}
	return k
}

func parseLevel(s string) (model.Level, error) {
	lvl, ok := model.ParseLevel(s)
	if !ok {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return lvl, nil
}

// Match reports whether r satisfies e. A nil e matches everything.
func Match(e Expr, r model.Record) bool {
	switch n := e.(type) {
	case nil:
		return true
	case Binary:
		if n.Op == "AND" {
			return Match(n.Left, r) && Match(n.Right, r)
		}
		return Match(n.Left, r) || Match(n.Right, r)
	case Not:
		return !Match(n.X, r)
	case Field:
		return matchField(n, r)
	}
	return false
}

func matchField(f Field, r model.Record) bool {
	if f.Op == "~" {
		for _, get := range fields {
			if containsFold(get(r), f.Value) {
				return true
			}
		}
		return false
	}

	if f.Key == "level" {
		want, _ := parseLevel(f.Value)
		switch f.Op {
		case ">=":
			return r.Level >= want
		case "<=":
			return r.Level <= want
		case "!=":
			return r.Level != want
		default:
			return r.Level == want
		}
	}

	got := fields[f.Key](r)
	switch f.Op {
	case "!=":
		return !containsFold(got, f.Value)
	default:
		return containsFold(got, f.Value)
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// Filter returns the records of rows matching e, keeping their order.
func Filter(e Expr, rows []model.StoredRecord) []model.StoredRecord {
	if e == nil {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if Match(e, r.Record) {
			out = append(out, r)
		}
	}
	return out
}
