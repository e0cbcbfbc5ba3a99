// Package normalization maps loosely written configuration strings onto typed enums.
package normalization

import (
	"fmt"
	"sort"
	"strings"
)

// Normalizer converts strings to enum values of type T.
type Normalizer[T comparable] struct {
	name         string
	validValues  map[string]T
	defaultValue T
	validKeys    []string
}

// NewNormalizer creates a normalizer for the enum called name. Keys of values are
// matched case-insensitively with surrounding whitespace ignored.
func NewNormalizer[T comparable](name string, values map[string]T, defaultValue T) *Normalizer[T] {
	normalized := make(map[string]T, len(values))
	validKeys := make([]string, 0, len(values))
	for k, v := range values {
		key := clean(k)
		normalized[key] = v
		validKeys = append(validKeys, key)
	}
	sort.Strings(validKeys)

	return &Normalizer[T]{
		name:         name,
		validValues:  normalized,
		defaultValue: defaultValue,
		validKeys:    validKeys,
	}
}

// Normalize returns the enum value for raw, or the default when raw is not recognized.
func (n *Normalizer[T]) Normalize(raw string) T {
	if value, ok := n.validValues[clean(raw)]; ok {
		return value
	}
	return n.defaultValue
}

// NormalizeWithError returns an error listing the valid options when raw is not recognized.
func (n *Normalizer[T]) NormalizeWithError(raw string) (T, error) {
	if value, ok := n.validValues[clean(raw)]; ok {
		return value, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q, valid options: %v", n.name, raw, n.validKeys)
}

// Result is the outcome of NormalizeWithWarning.
type Result[T comparable] struct {
	Value   T
	Changed bool
	Warning string
}

// NormalizeWithWarning normalizes raw and reports a warning when the input had to be
// rewritten or was replaced by the default.
func (n *Normalizer[T]) NormalizeWithWarning(field, raw string) Result[T] {
	cleaned := clean(raw)
	value, ok := n.validValues[cleaned]
	switch {
	case !ok && raw != "":
		return Result[T]{
			Value:   n.defaultValue,
			Changed: true,
			Warning: fmt.Sprintf("unknown %s %q for %s, using default", n.name, raw, field),
		}
	case !ok:
		return Result[T]{Value: n.defaultValue}
	case cleaned != raw:
		return Result[T]{
			Value:   value,
			Changed: true,
			Warning: fmt.Sprintf("normalized %s from '%s' to '%s'", field, raw, cleaned),
		}
	default:
		return Result[T]{Value: value}
	}
}

// ValidKeys returns all valid normalized keys, sorted.
func (n *Normalizer[T]) ValidKeys() []string {
	out := make([]string, len(n.validKeys))
	copy(out, n.validKeys)
	return out
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
