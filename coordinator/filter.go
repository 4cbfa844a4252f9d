package coordinator

import (
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/jrsteele09/go-oauth-credentials/token"
)

// Matcher selects credentials by their metadata.
type Matcher interface {
	Match(m *token.Metadata) (bool, error)
}

// MatchFunc adapts a plain predicate.
type MatchFunc func(m *token.Metadata) bool

func (f MatchFunc) Match(m *token.Metadata) (bool, error) {
	return f(m), nil
}

// Criterion is one field condition of a Filter.
type Criterion struct {
	scalar any
	values []any
	array  bool
}

// Equals matches a scalar field equal to v, or an array field containing v.
func Equals(v any) Criterion {
	return Criterion{scalar: v}
}

// Contains matches an array field holding every one of values.
func Contains[T comparable](values ...T) Criterion {
	c := Criterion{array: true, values: make([]any, len(values))}
	for i, v := range values {
		c.values[i] = v
	}
	return c
}

// Filter matches metadata field by field; every criterion must hold. Field
// names are those accepted by token.Metadata.Field.
type Filter map[string]Criterion

// FieldTypeError reports an array criterion applied to a scalar field.
type FieldTypeError struct {
	Field string
	Value any
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("filter field %q: array criterion against scalar value of type %T", e.Field, e.Value)
}

func (f Filter) Match(m *token.Metadata) (bool, error) {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ok, err := f[name].match(name, m)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (c Criterion) match(name string, m *token.Metadata) (bool, error) {
	value, ok := m.Field(name)
	if !ok {
		return false, nil
	}
	items, isArray := asSlice(value)

	if c.array {
		if !isArray {
			return false, &FieldTypeError{Field: name, Value: value}
		}
		for _, want := range c.values {
			if !containsValue(items, want) {
				return false, nil
			}
		}
		return true, nil
	}

	if isArray {
		return containsValue(items, c.scalar), nil
	}
	return equalValues(value, c.scalar), nil
}

// equalValues compares claim values, which may be maps or slices decoded from JSON.
func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func containsValue(items []any, v any) bool {
	return slices.ContainsFunc(items, func(item any) bool {
		return equalValues(item, v)
	})
}

func asSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, true
	case []any:
		return v, true
	default:
		return nil, false
	}
}
