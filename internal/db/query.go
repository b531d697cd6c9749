package db

import (
	"fmt"
	"strings"
)

// Args accumulates positional parameters while a query is built up from
// optional filters.
type Args struct {
	values []interface{}
}

// Add appends v and returns its placeholder ("$3").
func (a *Args) Add(v interface{}) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

// In returns a parenthesised placeholder list for vs, e.g. "($2, $3)". An
// empty slice yields "(NULL)" so "x IN (NULL)" matches nothing.
func In[T any](a *Args, vs []T) string {
	if len(vs) == 0 {
		return "(NULL)"
	}
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = a.Add(v)
	}
	return "(" + strings.Join(ph, ", ") + ")"
}

func (a *Args) Values() []interface{} {
	return a.values
}

func (a *Args) Len() int {
	return len(a.values)
}
