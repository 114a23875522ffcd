package postgrest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/query"
)

// Param is one query string parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of query string parameters.
type Params []Param

// Encode percent-encodes the parameters, preserving their order.
func (p Params) Encode() string {
	parts := make([]string, len(p))
	for i, param := range p {
		parts[i] = url.QueryEscape(param.Key) + "=" + url.QueryEscape(param.Value)
	}
	return strings.Join(parts, "&")
}

// String renders the parameters unescaped, as PostgREST reads them.
func (p Params) String() string {
	parts := make([]string, len(p))
	for i, param := range p {
		parts[i] = param.Key + "=" + param.Value
	}
	return strings.Join(parts, "&")
}

// Encode renders q in the PostgREST horizontal filtering dialect: one
// field=op.value parameter per predicate, an or=(...) group for a
// disjunction, and order, limit and offset for paging.
func Encode(q query.Query) (Params, error) {
	params := make(Params, 0, len(q.Where)+3)
	var groups []string
	for _, p := range q.Where {
		if or, ok := p.(query.Or); ok {
			group, err := encodeGroup(or)
			if err != nil {
				return nil, err
			}
			groups = append(groups, group)
			continue
		}
		field, value, err := encodePredicate(p, false)
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Key: field, Value: value})
	}

	// PostgREST honors a single or parameter; several groups nest in and.
	switch len(groups) {
	case 0:
	case 1:
		params = append(params, Param{Key: "or", Value: groups[0]})
	default:
		nested := make([]string, len(groups))
		for i, g := range groups {
			nested[i] = "or" + g
		}
		params = append(params, Param{Key: "and", Value: "(" + strings.Join(nested, ",") + ")"})
	}

	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			terms[i] = o.Field + "." + dir
		}
		params = append(params, Param{Key: "order", Value: strings.Join(terms, ",")})
	}
	if q.Limit > 0 {
		params = append(params, Param{Key: "limit", Value: strconv.Itoa(q.Limit)})
	}
	if q.Offset > 0 {
		params = append(params, Param{Key: "offset", Value: strconv.Itoa(q.Offset)})
	}
	return params, nil
}

// encodeGroup renders a disjunction as (a.op.v,b.op.v).
func encodeGroup(or query.Or) (string, error) {
	if len(or.Predicates) == 0 {
		// PostgREST rejects an empty logic group.
		return "", fmt.Errorf("postgrest: empty or group")
	}
	terms := make([]string, len(or.Predicates))
	for i, p := range or.Predicates {
		if inner, ok := p.(query.Or); ok {
			group, err := encodeGroup(inner)
			if err != nil {
				return "", err
			}
			terms[i] = "or" + group
			continue
		}
		field, value, err := encodePredicate(p, true)
		if err != nil {
			return "", err
		}
		terms[i] = field + "." + value
	}
	return "(" + strings.Join(terms, ",") + ")", nil
}

// encodePredicate returns the field and op.value halves of a predicate.
// Inside a logic group scalar values are quoted when they contain
// reserved characters.
func encodePredicate(p query.Predicate, grouped bool) (string, string, error) {
	switch pred := p.(type) {
	case query.Compare:
		if !pred.Op.IsComparison() {
			return "", "", fmt.Errorf("postgrest: operator %s is not a comparison", pred.Op)
		}
		return pred.Field, pred.Op.String() + "." + formatScalar(pred.Value, grouped), nil
	case query.InSet:
		items := make([]string, len(pred.Values))
		for i, v := range pred.Values {
			items[i] = formatScalar(v, true)
		}
		return pred.Field, "in.(" + strings.Join(items, ",") + ")", nil
	case query.Like:
		return pred.Field, "ilike." + quoteIf("*"+pred.Substring+"*", grouped), nil
	case query.Is:
		switch v := pred.Value.(type) {
		case nil:
			return pred.Field, "is.null", nil
		case bool:
			return pred.Field, "is." + strconv.FormatBool(v), nil
		}
		return "", "", fmt.Errorf("postgrest: is predicate on %s needs null or a boolean, got %T", pred.Field, pred.Value)
	default:
		return "", "", fmt.Errorf("postgrest: unsupported predicate %T", p)
	}
}

func formatScalar(v any, quote bool) string {
	var s string
	switch t := v.(type) {
	case string:
		return quoteIf(t, quote)
	case bool:
		s = strconv.FormatBool(t)
	case json.Number:
		s = t.String()
	default:
		if query.IsNumber(v) {
			s = document.KeyString(v)
		} else {
			s = fmt.Sprint(v)
		}
	}
	return s
}

const reserved = ",.:()\" "

// quoteIf double-quotes s when quote is set and s holds a character that
// PostgREST treats as syntax inside lists and logic groups.
func quoteIf(s string, quote bool) string {
	if !quote || !strings.ContainsAny(s, reserved) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
