// Package logtypes holds the static catalog of Management API log type codes
// and expands a minimum severity level into the set of matching codes.
package logtypes

import (
	"fmt"
	"sort"
	"strings"
)

// Level is the severity attached to a log type.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Type describes one log type code.
type Type struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       Level  `json:"level"`
}

// Lookup returns the descriptor for code.
func Lookup(code string) (Type, bool) {
	t, ok := catalog[code]
	if ok {
		t.Code = code
	}
	return t, ok
}

// Name returns the display name for code or a placeholder for unknown codes.
func Name(code string) string {
	if t, ok := catalog[code]; ok {
		return t.Name
	}
	return "Unknown Log Type: " + code
}

// All returns every catalog entry sorted by code.
func All() []Type {
	out := make([]Type, 0, len(catalog))
	for code, t := range catalog {
		t.Code = code
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Expand returns the sorted codes whose level is at least min.
// A zero or negative level selects nothing.
func Expand(min Level) []string {
	if min <= 0 {
		return nil
	}
	var out []string
	for code, t := range catalog {
		if t.Level >= min {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

// Filter merges explicit types with the codes selected by level and removes
// duplicates. Explicit types keep their order and come first.
func Filter(types []string, min Level) []string {
	seen := make(map[string]struct{}, len(types))
	var out []string
	add := func(code string) {
		code = strings.TrimSpace(code)
		if code == "" {
			return
		}
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	for _, t := range types {
		add(t)
	}
	for _, t := range Expand(min) {
		add(t)
	}
	return out
}

// ParseList splits a comma separated list of codes, ignoring whitespace.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseLevel accepts a level name or number.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "debug":
		return LevelDebug, nil
	case "1", "info":
		return LevelInfo, nil
	case "2", "warn", "warning":
		return LevelWarning, nil
	case "3", "error":
		return LevelError, nil
	case "4", "critical":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
