package rowsec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rhuss/keystone/pkg/debug"
	"github.com/rhuss/keystone/pkg/security"
)

// Select describes a query over one entity. Where may reference the
// caller's arguments as $1..$n.
type Select struct {
	Entity  string
	Alias   string
	Columns []string
	Where   string
	OrderBy string
	Limit   int
}

// Querier runs selects with the row filter of the caller appended.
type Querier struct {
	db     *sql.DB
	filter *Filter
}

// NewQuerier creates a querier on db.
func NewQuerier(db *sql.DB, f *Filter) *Querier {
	return &Querier{db: db, filter: f}
}

// Build renders the statement and its arguments without running it.
func (q *Querier) Build(ctx context.Context, sc *security.Context, s Select, args ...any) (string, []any, error) {
	e, err := q.filter.Generator().Schema().Entity(s.Entity)
	if err != nil {
		return "", nil, err
	}
	alias := s.Alias
	if alias == "" {
		alias = "e"
	}
	frag, err := q.filter.Constraint(ctx, sc, s.Entity, alias, len(args))
	if err != nil {
		return "", nil, err
	}

	columns := alias + ".*"
	if len(s.Columns) > 0 {
		qualified := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			if strings.ContainsAny(c, ".( ") {
				qualified[i] = c
			} else {
				qualified[i] = alias + "." + c
			}
		}
		columns = strings.Join(qualified, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s %s", columns, e.Table, alias)
	var conds []string
	if s.Where != "" {
		conds = append(conds, "("+s.Where+")")
	}
	if !frag.IsEmpty() {
		conds = append(conds, frag.SQL)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if s.OrderBy != "" {
		b.WriteString(" ORDER BY " + s.OrderBy)
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}
	return b.String(), append(append([]any(nil), args...), frag.Args...), nil
}

// Query runs the select. The caller closes the rows.
func (q *Querier) Query(ctx context.Context, sc *security.Context, s Select, args ...any) (*sql.Rows, error) {
	stmt, all, err := q.Build(ctx, sc, s, args...)
	if err != nil {
		return nil, err
	}
	debug.Log("rowsec", "query", "entity", s.Entity, "sql", stmt, "args", len(all))
	rows, err := q.db.QueryContext(ctx, stmt, all...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.Entity, err)
	}
	return rows, nil
}
