// Package filter describes metadata predicates over stored chunks.
package filter

import "fmt"

// MaxConditions is the maximum number of conditions per group.
const MaxConditions = 32

// Expression is a conjunction of conditions with an optional negated group.
// The zero value matches everything.
type Expression struct {
	must    []Condition
	mustNot []Condition
}

// NewExpression validates and creates an Expression.
func NewExpression(must, mustNot []Condition) (Expression, error) {
	if len(must) > MaxConditions {
		return Expression{}, fmt.Errorf("too many must conditions (max %d)", MaxConditions)
	}
	if len(mustNot) > MaxConditions {
		return Expression{}, fmt.Errorf("too many must_not conditions (max %d)", MaxConditions)
	}
	return Expression{must: must, mustNot: mustNot}, nil
}

// Must returns the required conditions.
func (e Expression) Must() []Condition { return e.must }

// MustNot returns the excluded conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.must) == 0 && len(e.mustNot) == 0 }

// And returns a copy of e with extra required conditions appended.
// The receiver is left untouched.
func (e Expression) And(conds ...Condition) Expression {
	must := make([]Condition, 0, len(e.must)+len(conds))
	must = append(must, e.must...)
	must = append(must, conds...)
	return Expression{must: must, mustNot: e.mustNot}
}

// Not returns a copy of e with extra excluded conditions appended.
func (e Expression) Not(conds ...Condition) Expression {
	mustNot := make([]Condition, 0, len(e.mustNot)+len(conds))
	mustNot = append(mustNot, e.mustNot...)
	mustNot = append(mustNot, conds...)
	return Expression{must: e.must, mustNot: mustNot}
}

// Condition is either an exact tag match or a numeric range on one field.
type Condition struct {
	key   string
	match string
	rng   *Range
}

// Eq creates an exact tag match condition.
func Eq(key, value string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if value == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, match: value}, nil
}

// MustEq is Eq for keys and values known to be valid at compile time.
func MustEq(key, value string) Condition {
	c, err := Eq(key, value)
	if err != nil {
		panic(err)
	}
	return c
}

// InRange creates a numeric range condition.
func InRange(key string, r Range) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	return Condition{key: key, rng: &r}, nil
}

// AtLeast is a shortcut for key >= min.
func AtLeast(key string, minValue float64) Condition {
	return Condition{key: key, rng: &Range{gte: &minValue}}
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }

// Range returns the numeric range, nil for match conditions.
func (c Condition) Range() *Range { return c.rng }

// IsMatch reports whether this is a match condition.
func (c Condition) IsMatch() bool { return c.match != "" }

// IsRange reports whether this is a range condition.
func (c Condition) IsRange() bool { return c.rng != nil }

// Range is a numeric interval with optional inclusive or exclusive bounds.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRange validates and creates a Range.
// At least one bound is required; gt/gte and lt/lte are mutually exclusive.
func NewRange(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }
