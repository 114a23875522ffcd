package query_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
)

func TestParseOperator(t *testing.T) {
	for _, op := range query.Operators() {
		parsed, err := query.ParseOperator(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
	}

	parsed, err := query.ParseOperator(" GTE ")
	require.NoError(t, err)
	assert.Equal(t, query.Gte, parsed)

	_, err = query.ParseOperator("neq")
	assert.True(t, pkgerrors.IsValidationError(err))

	var zero query.Operator
	assert.False(t, zero.Valid())
	assert.Equal(t, "invalid", zero.String())
}

func TestOperatorJSON(t *testing.T) {
	var f query.Filter
	require.NoError(t, json.Unmarshal([]byte(`{"field":"status","operator":"eq","value":"active"}`), &f))
	assert.Equal(t, query.Filter{Field: "status", Operator: query.Eq, Value: "active"}, f)

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"field":"status","operator":"eq","value":"active"}`, string(out))

	err = json.Unmarshal([]byte(`{"field":"status","operator":"like","value":"x"}`), &f)
	assert.Error(t, err)
}

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  query.Filter
		wantErr bool
	}{
		{"eq string", query.Filter{Field: "status", Operator: query.Eq, Value: "active"}, false},
		{"gte number", query.Filter{Field: "age", Operator: query.Gte, Value: 18}, false},
		{"eq bool", query.Filter{Field: "archived", Operator: query.Eq, Value: false}, false},
		{"in strings", query.Filter{Field: "id", Operator: query.In, Value: []string{"a", "b"}}, false},
		{"in any", query.Filter{Field: "id", Operator: query.In, Value: []any{1, "b"}}, false},
		{"contains", query.Filter{Field: "name", Operator: query.Contains, Value: "hawks"}, false},
		{"empty field", query.Filter{Operator: query.Eq, Value: "x"}, true},
		{"zero operator", query.Filter{Field: "status", Value: "x"}, true},
		{"eq nil", query.Filter{Field: "status", Operator: query.Eq}, true},
		{"eq list", query.Filter{Field: "status", Operator: query.Eq, Value: []string{"a"}}, true},
		{"in scalar", query.Filter{Field: "id", Operator: query.In, Value: "a"}, true},
		{"in empty", query.Filter{Field: "id", Operator: query.In, Value: []any{}}, true},
		{"in nested", query.Filter{Field: "id", Operator: query.In, Value: []any{[]any{1}}}, true},
		{"contains number", query.Filter{Field: "name", Operator: query.Contains, Value: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				assert.True(t, pkgerrors.IsValidationError(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTranslate(t *testing.T) {
	preds := query.Translate([]query.Filter{
		{Field: "status", Operator: query.Eq, Value: "active"},
		{Field: "rank", Operator: query.Lt, Value: 10},
		{Field: "id", Operator: query.In, Value: []string{"a", "b"}},
		{Field: "name", Operator: query.Contains, Value: "hawks"},
	})

	assert.Equal(t, []query.Predicate{
		query.Compare{Field: "status", Op: query.Eq, Value: "active"},
		query.Compare{Field: "rank", Op: query.Lt, Value: 10},
		query.InSet{Field: "id", Values: []any{"a", "b"}},
		query.Like{Field: "name", Substring: "hawks"},
	}, preds)

	assert.Empty(t, query.Translate(nil))
}

func TestTranslatePanicsOnInvalidOperator(t *testing.T) {
	assert.Panics(t, func() {
		query.Translate([]query.Filter{{Field: "status", Value: "x"}})
	})
}

func TestCompareValues(t *testing.T) {
	c, ok := query.CompareValues(1, 1.0)
	assert.True(t, ok)
	assert.Zero(t, c)

	c, ok = query.CompareValues(json.Number("12"), int64(3))
	assert.True(t, ok)
	assert.Equal(t, 1, c)

	c, ok = query.CompareValues("2024-01-01", "2024-02-01")
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = query.CompareValues(false, true)
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = query.CompareValues("1", 1)
	assert.False(t, ok)
	_, ok = query.CompareValues(nil, 1)
	assert.False(t, ok)

	assert.True(t, query.ValuesEqual(nil, nil))
	assert.False(t, query.ValuesEqual(nil, false))
	assert.True(t, query.ValuesEqual(map[string]any{"a": 1}, map[string]any{"a": 1}))
}

func TestMatch(t *testing.T) {
	doc := map[string]any{
		"id":       "t1",
		"status":   "active",
		"rank":     float64(4),
		"name":     "Harbor Hawks",
		"_deleted": nil,
		"archived": false,
	}

	tests := []struct {
		name string
		pred query.Predicate
		want bool
	}{
		{"eq hit", query.Equal("status", "active"), true},
		{"eq miss", query.Equal("status", "archived"), false},
		{"gt", query.Compare{Field: "rank", Op: query.Gt, Value: 3}, true},
		{"gte equal", query.Compare{Field: "rank", Op: query.Gte, Value: 4}, true},
		{"lt miss", query.Compare{Field: "rank", Op: query.Lt, Value: 4}, false},
		{"lte", query.Compare{Field: "rank", Op: query.Lte, Value: 4}, true},
		{"compare missing field", query.Equal("missing", "x"), false},
		{"in hit", query.InSet{Field: "id", Values: []any{"t0", "t1"}}, true},
		{"in miss", query.InSet{Field: "id", Values: []any{"t9"}}, false},
		{"contains ignores case", query.Like{Field: "name", Substring: "hawks"}, true},
		{"contains non-string", query.Like{Field: "rank", Substring: "4"}, false},
		{"is null explicit", query.IsNull("_deleted"), true},
		{"is null missing", query.IsNull("nope"), true},
		{"is false", query.IsBool("archived", false), true},
		{"is true miss", query.IsBool("archived", true), false},
		{"is false on null", query.IsBool("_deleted", false), false},
		{"or", query.Or{Predicates: []query.Predicate{query.IsBool("_deleted", false), query.IsNull("_deleted")}}, true},
		{"empty or", query.Or{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, query.MatchPredicate(doc, tt.pred))
		})
	}
}

func TestApply(t *testing.T) {
	docs := make([]map[string]any, 0, 10)
	for i := 0; i < 10; i++ {
		status := "active"
		if i%3 == 0 {
			status = "archived"
		}
		docs = append(docs, map[string]any{"id": i, "status": status, "_modified": float64(10 - i)})
	}

	q := query.Query{
		Where:   []query.Predicate{query.Equal("status", "active")},
		OrderBy: []query.Order{{Field: "_modified"}, {Field: "id"}},
		Limit:   4,
		Offset:  0,
	}
	page, total := query.Apply(docs, q)
	assert.Equal(t, 6, total)
	require.Len(t, page, 4)
	assert.Equal(t, 8, page[0]["id"])
	assert.Equal(t, 7, page[1]["id"])

	q.Offset = 4
	page, total = query.Apply(docs, q)
	assert.Equal(t, 6, total)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0]["id"])
	assert.Equal(t, 1, page[1]["id"])

	q.Offset = 10
	page, _ = query.Apply(docs, q)
	assert.Empty(t, page)

	desc := query.Query{OrderBy: []query.Order{{Field: "id", Desc: true}}, Limit: 1}
	page, total = query.Apply(docs, desc)
	assert.Equal(t, 10, total)
	assert.Equal(t, 9, page[0]["id"])
}
