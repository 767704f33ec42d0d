package descriptor

import (
	"strings"
)

// expr is a node of the untyped expression tree a descriptor string is first
// split into: a name followed by an optional parenthesized argument list.
// Key expressions and numbers are leaves.
type expr struct {
	name string
	args []*expr
}

// parseExpr splits s into an expression tree.
func parseExpr(s string) (*expr, error) {
	e, rest, err := parseExprPrefix(s)
	if err != nil {
		return nil, err
	}

	if rest != "" {
		return nil, parseErr(ErrInvalidDescriptor, rest)
	}

	return e, nil
}

// parseExprPrefix parses one expression from the start of s and returns the
// unconsumed remainder.
func parseExprPrefix(s string) (*expr, string, error) {
	end := strings.IndexAny(s, "(),")
	if end < 0 {
		end = len(s)
	}

	name := s[:end]
	if name == "" {
		return nil, "", parseErr(ErrInvalidDescriptor, s)
	}

	e := &expr{name: name}
	rest := s[end:]
	if !strings.HasPrefix(rest, "(") {
		return e, rest, nil
	}

	rest = rest[1:]
	for {
		arg, remainder, err := parseExprPrefix(rest)
		if err != nil {
			return nil, "", err
		}

		e.args = append(e.args, arg)
		rest = remainder

		switch {
		case strings.HasPrefix(rest, ","):
			rest = rest[1:]

		case strings.HasPrefix(rest, ")"):
			return e, rest[1:], nil

		default:
			return nil, "", parseErr(ErrInvalidDescriptor, s)
		}
	}
}

// isLeaf reports whether the expression has no argument list.
func (e *expr) isLeaf() bool {
	return e.args == nil
}
