package postgres

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// listQuery assembles a filtered, paginated SELECT with positional args.
type listQuery struct {
	b     strings.Builder
	args  []any
	where bool
}

func newListQuery(selectFrom string) *listQuery {
	q := &listQuery{}
	q.b.WriteString(selectFrom)
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// and adds "col op $n".
func (q *listQuery) and(col, op string, v any) *listQuery {
	if q.where {
		q.b.WriteString(" AND ")
	} else {
		q.b.WriteString(" WHERE ")
		q.where = true
	}
	q.b.WriteString(col + " " + op + " " + q.arg(v))
	return q
}

// window applies opts.Since and opts.Until to a timestamp column.
func (q *listQuery) window(col string, opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.and(col, ">=", *opts.Since)
	}
	if opts.Until != nil {
		q.and(col, "<=", *opts.Until)
	}
	return q
}

// page orders newest first by col and applies limit and offset.
func (q *listQuery) page(col string, opts domain.ListOpts) (string, []any) {
	q.b.WriteString(" ORDER BY " + col + " DESC")
	if opts.Limit > 0 {
		q.b.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.b.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
	return q.b.String(), q.args
}
