// Package stages edits and caches the ordered onboarding stage list.
//
// The list functions never modify their input; each returns a fresh slice.
package stages

import (
	"errors"
	"strings"
)

var (
	ErrEmpty      = errors.New("stage list must not be empty")
	ErrBlank      = errors.New("stage name must not be blank")
	ErrDuplicate  = errors.New("stage already exists")
	ErrOutOfRange = errors.New("stage index out of range")
	ErrUnknown    = errors.New("unknown stage")
)

// Normalize trims names, drops blanks and keeps the first occurrence of
// each name (compared case-insensitively) in the original order.
func Normalize(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		k := key(n)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func Add(names []string, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrBlank
	}
	if Contains(names, name) {
		return nil, ErrDuplicate
	}
	return append(clone(names), name), nil
}

func Rename(names []string, i int, name string) ([]string, error) {
	if i < 0 || i >= len(names) {
		return nil, ErrOutOfRange
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrBlank
	}
	for j, n := range names {
		if j != i && key(n) == key(name) {
			return nil, ErrDuplicate
		}
	}
	out := clone(names)
	out[i] = name
	return out, nil
}

// Remove refuses to drop the last remaining stage.
func Remove(names []string, i int) ([]string, error) {
	if i < 0 || i >= len(names) {
		return nil, ErrOutOfRange
	}
	if len(names) == 1 {
		return nil, ErrEmpty
	}
	out := make([]string, 0, len(names)-1)
	out = append(out, names[:i]...)
	return append(out, names[i+1:]...), nil
}

// MoveUp swaps stage i with its predecessor. Moving the first stage up is a
// no-op.
func MoveUp(names []string, i int) ([]string, error) {
	if i < 0 || i >= len(names) {
		return nil, ErrOutOfRange
	}
	out := clone(names)
	if i > 0 {
		out[i-1], out[i] = out[i], out[i-1]
	}
	return out, nil
}

// MoveDown swaps stage i with its successor. Moving the last stage down is
// a no-op.
func MoveDown(names []string, i int) ([]string, error) {
	if i < 0 || i >= len(names) {
		return nil, ErrOutOfRange
	}
	out := clone(names)
	if i < len(out)-1 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out, nil
}

func Contains(names []string, name string) bool {
	return Index(names, name) >= 0
}

// Index returns the position of name, ignoring case and surrounding space,
// or -1.
func Index(names []string, name string) int {
	k := key(name)
	for i, n := range names {
		if key(n) == k {
			return i
		}
	}
	return -1
}

func key(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func clone(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}
