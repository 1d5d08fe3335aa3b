package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testAttrs() map[string]any {
	return map[string]any{
		"amount":      15000.0,
		"daysOverdue": 12,
		"customer": map[string]any{
			"tier":    "vip",
			"country": "DE",
		},
		"tags":          []any{"finance", "urgent"},
		"invoiceNumber": "INV-2024-0042",
		"active":        true,
	}
}

func TestEvaluate_Logic(t *testing.T) {
	attrs := testAttrs()

	t.Run("empty condition set never matches", func(t *testing.T) {
		assert.False(t, Evaluate(nil, LogicAnd, attrs))
		assert.False(t, Evaluate([]Condition{}, LogicAnd, attrs))
		assert.False(t, Evaluate([]Condition{}, LogicOr, attrs))
	})

	t.Run("and requires every condition", func(t *testing.T) {
		conditions := []Condition{
			{Field: "amount", Operator: "gte", Value: 10000},
			{Field: "customer.tier", Operator: "eq", Value: "vip"},
		}
		assert.True(t, Evaluate(conditions, LogicAnd, attrs))

		conditions = append(conditions, Condition{Field: "daysOverdue", Operator: "gt", Value: 30})
		assert.False(t, Evaluate(conditions, LogicAnd, attrs))
	})

	t.Run("or requires any condition", func(t *testing.T) {
		conditions := []Condition{
			{Field: "daysOverdue", Operator: "gt", Value: 30},
			{Field: "customer.tier", Operator: "eq", Value: "vip"},
		}
		assert.True(t, Evaluate(conditions, LogicOr, attrs))

		conditions = []Condition{
			{Field: "daysOverdue", Operator: "gt", Value: 30},
			{Field: "customer.tier", Operator: "eq", Value: "standard"},
		}
		assert.False(t, Evaluate(conditions, LogicOr, attrs))
	})

	t.Run("missing logic defaults to and", func(t *testing.T) {
		conditions := []Condition{
			{Field: "amount", Operator: "gte", Value: 10000},
			{Field: "daysOverdue", Operator: "gt", Value: 30},
		}
		assert.False(t, Evaluate(conditions, "", attrs))
	})

	t.Run("unknown operator fails the condition", func(t *testing.T) {
		conditions := []Condition{{Field: "amount", Operator: "almost", Value: 15000}}
		assert.False(t, Evaluate(conditions, LogicAnd, attrs))
	})
}

func TestEvaluate_Comparison(t *testing.T) {
	attrs := testAttrs()

	cases := []struct {
		name      string
		condition Condition
		want      bool
	}{
		{"eq string", Condition{Field: "customer.tier", Operator: "eq", Value: "vip"}, true},
		{"eq numeric cross-type", Condition{Field: "daysOverdue", Operator: "eq", Value: 12.0}, true},
		{"eq bool", Condition{Field: "active", Operator: "eq", Value: true}, true},
		{"ne", Condition{Field: "customer.country", Operator: "ne", Value: "FR"}, true},
		{"ne on missing field fails", Condition{Field: "missing", Operator: "ne", Value: "x"}, false},
		{"gt", Condition{Field: "amount", Operator: "gt", Value: 14999}, true},
		{"gte boundary", Condition{Field: "amount", Operator: "gte", Value: 15000}, true},
		{"lt", Condition{Field: "daysOverdue", Operator: "lt", Value: 10}, false},
		{"lte boundary", Condition{Field: "daysOverdue", Operator: "lte", Value: 12}, true},
		{"in", Condition{Field: "customer.country", Operator: "in", Value: []any{"DE", "AT", "CH"}}, true},
		{"nin", Condition{Field: "customer.country", Operator: "nin", Value: []any{"US", "UK"}}, true},
		{"contains string", Condition{Field: "invoiceNumber", Operator: "contains", Value: "2024"}, true},
		{"contains list", Condition{Field: "tags", Operator: "contains", Value: "urgent"}, true},
		{"regex", Condition{Field: "invoiceNumber", Operator: "regex", Value: `^INV-\d{4}-\d{4}$`}, true},
		{"regex invalid pattern fails", Condition{Field: "invoiceNumber", Operator: "regex", Value: `([`}, false},
		{"between inclusive", Condition{Field: "amount", Operator: "between", Value: []any{15000, 20000}}, true},
		{"between outside", Condition{Field: "amount", Operator: "between", Value: []any{0, 14999}}, false},
		{"exists true", Condition{Field: "customer.tier", Operator: "exists", Value: true}, true},
		{"exists false on missing", Condition{Field: "customer.vatId", Operator: "exists", Value: false}, true},
		{"exists default wants presence", Condition{Field: "missing", Operator: "exists"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate([]Condition{tc.condition}, LogicAnd, attrs)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Numeric operators must reject numeric strings: a payload that delivers
// "15000" instead of 15000 fails the predicate rather than silently matching.
func TestEvaluate_NoStringCoercion(t *testing.T) {
	attrs := map[string]any{
		"amount":  "15000",
		"balance": 15000,
	}

	assert.False(t, Evaluate([]Condition{{Field: "amount", Operator: "gt", Value: 100}}, LogicAnd, attrs))
	assert.False(t, Evaluate([]Condition{{Field: "amount", Operator: "between", Value: []any{0, 20000}}}, LogicAnd, attrs))
	assert.False(t, Evaluate([]Condition{{Field: "balance", Operator: "gte", Value: "100"}}, LogicAnd, attrs))
	assert.False(t, Evaluate([]Condition{{Field: "amount", Operator: "eq", Value: 15000}}, LogicAnd, attrs))
	assert.True(t, Evaluate([]Condition{{Field: "amount", Operator: "eq", Value: "15000"}}, LogicAnd, attrs))
}

func TestEvaluate_MissingFields(t *testing.T) {
	attrs := testAttrs()

	t.Run("eq nil matches missing field", func(t *testing.T) {
		assert.True(t, Evaluate([]Condition{{Field: "ghost", Operator: "eq", Value: nil}}, LogicAnd, attrs))
	})

	t.Run("eq non-nil fails on missing field", func(t *testing.T) {
		assert.False(t, Evaluate([]Condition{{Field: "ghost", Operator: "eq", Value: "x"}}, LogicAnd, attrs))
	})

	t.Run("comparisons fail on missing field", func(t *testing.T) {
		for _, op := range []string{"gt", "gte", "lt", "lte", "in", "contains", "regex", "between"} {
			assert.False(t, Evaluate([]Condition{{Field: "ghost", Operator: op, Value: 1}}, LogicAnd, attrs), op)
		}
	})
}

func TestResolvePath(t *testing.T) {
	attrs := testAttrs()

	value, found := ResolvePath(attrs, "customer.tier")
	assert.True(t, found)
	assert.Equal(t, "vip", value)

	_, found = ResolvePath(attrs, "customer.tier.deeper")
	assert.False(t, found)

	_, found = ResolvePath(attrs, "")
	assert.False(t, found)

	value, found = ResolvePath(attrs, "amount")
	assert.True(t, found)
	assert.Equal(t, 15000.0, value)
}
