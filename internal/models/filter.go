package models

import "strings"

// FilterTuple fully determines a filtered view
type FilterTuple struct {
	Building string `json:"building"`
	Room     string `json:"room"`
	Search   string `json:"search"`
}

// Key serializes the tuple for memoization. The separator cannot appear in tags.
func (f FilterTuple) Key() string {
	return strings.Join([]string{f.Building, f.Room, f.Search}, "\x1f")
}
