package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StringList is a JSON-encoded list of strings stored in a single column
type StringList []string

// Scan implements the sql.Scanner interface for StringList
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}

	var out []string
	if err := json.Unmarshal(bytes, &out); err != nil {
		return fmt.Errorf("invalid string list data: %w", err)
	}

	*s = out
	return nil
}

// Value implements the driver.Valuer interface for StringList
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	bytes, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return bytes, nil
}

// Contains reports whether the list contains the given value
func (s StringList) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// NormalizeScope sorts, deduplicates and trims a scope so that two
// logically identical scopes always compare equal.
func NormalizeScope(scope []string) StringList {
	seen := make(map[string]bool, len(scope))
	out := make([]string, 0, len(scope))
	for _, s := range scope {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ScopeKey returns the canonical single-string form of a normalized scope,
// used to enforce the one-active-grant-per-tuple invariant in the database.
func ScopeKey(scope StringList) string {
	return strings.Join(scope, "|")
}
