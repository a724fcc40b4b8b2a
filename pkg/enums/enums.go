// Package enums holds the string enums persisted in postgres enum columns.
package enums

import (
	"fmt"
	"slices"
)

// parse matches value against the known members of an enum. kind only feeds
// the error text.
func parse[T ~string](kind, value string, known []T) (T, error) {
	if v := T(value); slices.Contains(known, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
