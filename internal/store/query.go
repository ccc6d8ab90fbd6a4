package store

import (
	"fmt"
	"regexp"
	"strings"

	"dues-service/internal/tenancy"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Query is a storage-neutral filter, sort and paging description. Field
// names are column names; anything else is rejected when the query runs.
type Query struct {
	conds  []clause.Expression
	orders []clause.OrderByColumn
	limit  int
	offset int
	err    error
}

// NewQuery starts an empty query
func NewQuery() *Query {
	return &Query{}
}

func (q *Query) column(field string) clause.Column {
	if !identPattern.MatchString(field) && q.err == nil {
		q.err = fmt.Errorf("%w: invalid field %q", tenancy.ErrValidation, field)
	}
	return clause.Column{Table: clause.CurrentTable, Name: field}
}

// Eq matches rows whose field equals v
func (q *Query) Eq(field string, v interface{}) *Query {
	q.conds = append(q.conds, clause.Eq{Column: q.column(field), Value: v})
	return q
}

// Neq matches rows whose field differs from v
func (q *Query) Neq(field string, v interface{}) *Query {
	q.conds = append(q.conds, clause.Neq{Column: q.column(field), Value: v})
	return q
}

// In matches rows whose field is one of vs
func (q *Query) In(field string, vs ...interface{}) *Query {
	q.conds = append(q.conds, clause.IN{Column: q.column(field), Values: vs})
	return q
}

// Gte matches rows whose field is at least v
func (q *Query) Gte(field string, v interface{}) *Query {
	q.conds = append(q.conds, clause.Gte{Column: q.column(field), Value: v})
	return q
}

// Lte matches rows whose field is at most v
func (q *Query) Lte(field string, v interface{}) *Query {
	q.conds = append(q.conds, clause.Lte{Column: q.column(field), Value: v})
	return q
}

// Lt matches rows whose field is below v
func (q *Query) Lt(field string, v interface{}) *Query {
	q.conds = append(q.conds, clause.Lt{Column: q.column(field), Value: v})
	return q
}

// Between matches rows whose field lies in [from, to]
func (q *Query) Between(field string, from, to interface{}) *Query {
	return q.Gte(field, from).Lte(field, to)
}

// IsNull matches rows whose field is NULL
func (q *Query) IsNull(field string) *Query {
	q.conds = append(q.conds, clause.Eq{Column: q.column(field), Value: nil})
	return q
}

// NotNull matches rows whose field is not NULL
func (q *Query) NotNull(field string) *Query {
	q.conds = append(q.conds, clause.Neq{Column: q.column(field), Value: nil})
	return q
}

// Match is a case-insensitive substring match
func (q *Query) Match(field, substr string) *Query {
	col := q.column(field)
	pattern := "%" + likeEscaper.Replace(strings.ToLower(substr)) + "%"
	q.conds = append(q.conds, clause.Expr{
		SQL:  "LOWER(?) LIKE ? ESCAPE '!'",
		Vars: []interface{}{col, pattern},
	})
	return q
}

// MatchAny is Match over several fields joined with OR
func (q *Query) MatchAny(substr string, fields ...string) *Query {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(substr)) + "%"
	exprs := make([]clause.Expression, 0, len(fields))
	for _, f := range fields {
		exprs = append(exprs, clause.Expr{
			SQL:  "LOWER(?) LIKE ? ESCAPE '!'",
			Vars: []interface{}{q.column(f), pattern},
		})
	}
	if len(exprs) > 0 {
		q.conds = append(q.conds, clause.Or(exprs...))
	}
	return q
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// OrderBy appends a sort key
func (q *Query) OrderBy(field string, desc bool) *Query {
	q.orders = append(q.orders, clause.OrderByColumn{Column: q.column(field), Desc: desc})
	return q
}

// Limit caps the number of rows
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Offset skips the first n rows
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// Page sets limit and offset from a 1-based page number
func (q *Query) Page(page, size int) *Query {
	if page < 1 {
		page = 1
	}
	if size > 0 {
		q.limit = size
		q.offset = (page - 1) * size
	}
	return q
}

// clone copies q so paging changes do not leak back to the caller
func (q *Query) clone() *Query {
	if q == nil {
		return NewQuery()
	}
	c := *q
	c.conds = append([]clause.Expression(nil), q.conds...)
	c.orders = append([]clause.OrderByColumn(nil), q.orders...)
	return &c
}

func (q *Query) filter(db *gorm.DB) (*gorm.DB, error) {
	if q == nil {
		return db, nil
	}
	if q.err != nil {
		return nil, q.err
	}
	for _, c := range q.conds {
		db = db.Where(c)
	}
	return db, nil
}

func (q *Query) apply(db *gorm.DB) (*gorm.DB, error) {
	db, err := q.filter(db)
	if err != nil || q == nil {
		return db, err
	}
	if len(q.orders) > 0 {
		db = db.Order(clause.OrderBy{Columns: q.orders})
	}
	if q.limit > 0 {
		db = db.Limit(q.limit)
	}
	if q.offset > 0 {
		db = db.Offset(q.offset)
	}
	return db, nil
}
