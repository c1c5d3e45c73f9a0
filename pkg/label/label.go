// Package label converts zero-based indexes to spreadsheet-style column
// names and back: 0 -> "A", 25 -> "Z", 26 -> "AA", 701 -> "ZZ". The
// encoding is bijective base-26 over 'A'..'Z'; both directions are pure
// functions with no state.
package label

import (
	"fmt"

	apperrors "github.com/wehubfusion/Talos/pkg/errors"
)

const base = 26

// FromIndex returns the column name for a zero-based index.
func FromIndex(index int) (string, error) {
	if index < 0 {
		return "", apperrors.NewInvalidArgument(fmt.Sprintf("index must not be negative, got %d", index))
	}

	// 14 letters cover every non-negative 64-bit index.
	buf := make([]byte, 0, 14)
	for {
		buf = append(buf, byte('A'+index%base))
		index = index/base - 1
		if index < 0 {
			break
		}
	}

	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

// ToIndex returns the zero-based index for a column name. Only uppercase
// 'A'..'Z' names are accepted.
func ToIndex(name string) (int, error) {
	if name == "" {
		return 0, apperrors.NewInvalidArgument("name cannot be empty")
	}

	index := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 'A' || c > 'Z' {
			return 0, apperrors.NewInvalidArgument(fmt.Sprintf("name %q contains invalid character %q", name, c))
		}
		index = index*base + int(c-'A') + 1
	}
	return index - 1, nil
}
