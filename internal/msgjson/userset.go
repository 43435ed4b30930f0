package msgjson

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
)

// UserSet is a set of user ids persisted as a JSON array column. It satisfies
// sql.Scanner and driver.Valuer so it works on both PostgreSQL and SQLite.
type UserSet []string

// Has reports whether id is a member of the set.
func (s UserSet) Has(id string) bool {
	return slices.Contains(s, id)
}

// Add returns the set with id included and whether it was newly added.
func (s UserSet) Add(id string) (UserSet, bool) {
	if s.Has(id) {
		return s, false
	}
	out := append(slices.Clone(s), id)
	slices.Sort(out)
	return out, true
}

// Value implements driver.Valuer.
func (s UserSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("msgjson.UserSet: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *UserSet) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("msgjson.UserSet: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("msgjson.UserSet: invalid JSON payload: %w", err)
	}
	*s = UserSet(ids)
	return nil
}
