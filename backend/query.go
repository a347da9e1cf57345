package backend

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Op is a PostgREST filter operator.
type Op string

const (
	OpEq   Op = "eq"
	OpNeq  Op = "neq"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpIn   Op = "in"
	OpLike Op = "like"
	OpIs   Op = "is"
)

// Filter is one column condition.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, v any) Filter  { return Filter{column, OpEq, v} }
func Neq(column string, v any) Filter { return Filter{column, OpNeq, v} }
func Gt(column string, v any) Filter  { return Filter{column, OpGt, v} }
func Gte(column string, v any) Filter { return Filter{column, OpGte, v} }
func Lt(column string, v any) Filter  { return Filter{column, OpLt, v} }
func Lte(column string, v any) Filter { return Filter{column, OpLte, v} }

// In matches any of values.
func In(column string, values ...any) Filter { return Filter{column, OpIn, values} }

// Like matches a pattern; * is the wildcard.
func Like(column, pattern string) Filter { return Filter{column, OpLike, pattern} }

// Is matches null, true or false.
func Is(column string, v any) Filter { return Filter{column, OpIs, v} }

var columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Validate checks the column name and operator.
func (f Filter) Validate() error {
	if !columnPattern.MatchString(f.Column) {
		return fmt.Errorf("%w: bad column %q", ErrInvalidQuery, f.Column)
	}
	switch f.Op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpLike:
	case OpIn:
		if _, ok := f.Value.([]any); !ok {
			return fmt.Errorf("%w: in filter on %s needs a list", ErrInvalidQuery, f.Column)
		}
	case OpIs:
		switch f.Value {
		case nil, true, false, "null", "true", "false":
		default:
			return fmt.Errorf("%w: is filter on %s accepts null, true or false", ErrInvalidQuery, f.Column)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
	}
	return nil
}

// Encode returns the query-string value, e.g. "eq.pendente".
func (f Filter) Encode() string {
	switch f.Op {
	case OpIn:
		vals, _ := f.Value.([]any)
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = quoteListItem(formatValue(v))
		}
		return "in.(" + strings.Join(parts, ",") + ")"
	case OpIs:
		if f.Value == nil {
			return "is.null"
		}
		return "is." + formatValue(f.Value)
	default:
		return string(f.Op) + "." + formatValue(f.Value)
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func quoteListItem(s string) string {
	if strings.ContainsAny(s, `,()" `) {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}

// Order sorts by one column.
type Order struct {
	Column     string
	Descending bool
}

// Query is a table read.
type Query struct {
	// Select lists columns, "*" when empty. Embedded resources use the
	// PostgREST syntax: "*,client:clients(name)".
	Select  string
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
}

// Where returns a copy of q with more filters.
func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// Validate checks every filter and the paging values.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	for _, o := range q.Order {
		if !columnPattern.MatchString(o.Column) {
			return fmt.Errorf("%w: bad order column %q", ErrInvalidQuery, o.Column)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrInvalidQuery)
	}
	return nil
}

// Values encodes q as URL query parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	sel := q.Select
	if sel == "" {
		sel = "*"
	}
	v.Set("select", sel)
	encodeFilters(v, q.Filters)
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		v.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

func encodeFilters(v url.Values, filters []Filter) {
	for _, f := range filters {
		v.Add(f.Column, f.Encode())
	}
}

// KeyParams returns q's encoded parameters as a map, one entry per
// parameter with repeated values joined by "&". Equal queries give equal
// maps, so collections use it as the parameter segment of list cache keys.
func (q Query) KeyParams() map[string]any {
	v := q.Values()
	m := make(map[string]any, len(v))
	for k, vs := range v {
		sorted := append([]string(nil), vs...)
		sort.Strings(sorted)
		m[k] = strings.Join(sorted, "&")
	}
	return m
}
