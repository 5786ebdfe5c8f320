// Package match implements the small filter language used to narrow
// records pulled from the central store.
//
//	module:mapper AND level>=warning
//	node!=ci-01 AND NOT "retrying"
//	(fn:Connect OR fn:Ping) AND msg:"timeout"
//
// Text comparisons are case-insensitive substring matches. A bare word or
// quoted string searches every field.
package match

// Expr is a node of a parsed filter.
type Expr interface {
	expr()
}

// Binary joins two expressions with AND or OR.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Not negates its operand.
type Not struct {
	X Expr
}

// Field compares one record field. An empty Key means a full text search.
type Field struct {
	Key   string
	Op    string // ":", "!=", ">=", "<=" or "~" for full text
	Value string
}

func (Binary) expr() {}
func (Not) expr()    {}
func (Field) expr()  {}
