// Package mapper translates raw catalog file names into their published
// names using a static table.
package mapper

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NameMapper resolves raw file names against the catalog table. Lookups are
// exact first and then case and space insensitive. There is no fuzzy
// matching: a name that matches neither way is reported as not found.
//
// A NameMapper is immutable after construction and safe for concurrent use.
type NameMapper struct {
	table    map[string]string
	exact    map[string]string
	flexible map[string]string

	// Flexible keys that collapse from raw names mapped to different values
	ambiguous map[string]struct{}
}

// New builds a mapper over table. The table is copied.
func New(table map[string]string) *NameMapper {
	m := &NameMapper{
		table:     make(map[string]string, len(table)),
		exact:     make(map[string]string, len(table)),
		flexible:  make(map[string]string, len(table)),
		ambiguous: make(map[string]struct{}),
	}

	for raw, canonical := range table {
		m.table[raw] = canonical
		m.exact[raw] = canonical
		// Decomposed forms from SMB and macOS clients are exact hits too
		if nfc := norm.NFC.String(raw); nfc != raw {
			if _, real := table[nfc]; !real {
				m.exact[nfc] = canonical
			}
		}

		key := flexibleKey(raw)
		if prev, ok := m.flexible[key]; ok && prev != canonical {
			m.ambiguous[key] = struct{}{}
			continue
		}
		m.flexible[key] = canonical
	}

	for key := range m.ambiguous {
		delete(m.flexible, key)
	}

	return m
}

// Normalize returns the published name for raw. found is false when raw has
// no entry, in which case canonical is raw unchanged.
func (m *NameMapper) Normalize(raw string) (canonical string, found bool) {
	if v, ok := m.exact[raw]; ok {
		return v, true
	}
	if v, ok := m.exact[norm.NFC.String(raw)]; ok {
		return v, true
	}

	key := flexibleKey(raw)
	if _, bad := m.ambiguous[key]; bad {
		return raw, false
	}
	if v, ok := m.flexible[key]; ok {
		return v, true
	}

	return raw, false
}

// Mapping returns a copy of the table the mapper was built from
func (m *NameMapper) Mapping() map[string]string {
	out := make(map[string]string, len(m.table))
	for raw, canonical := range m.table {
		out[raw] = canonical
	}
	return out
}

// Len is the number of entries in the table
func (m *NameMapper) Len() int {
	return len(m.table)
}

// flexibleKey lowercases the NFC form and drops spaces. A no-break space
// counts as a space; tabs and newlines do not.
func flexibleKey(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, s)
}
