package source

import (
	"strings"

	"github.com/gobwas/glob"
	"gitlab.com/tozd/go/errors"
)

// GlobFilter selects catalog file names using include and exclude glob
// patterns. Matching is case-insensitive because the source folder is a
// Windows share where "X.PDF" and "x.pdf" are the same file.
type GlobFilter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewGlobFilter compiles the patterns. Empty include matches every name.
func NewGlobFilter(include, exclude []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		include: make([]glob.Glob, 0, len(include)),
		exclude: make([]glob.Glob, 0, len(exclude)),
	}

	for _, pattern := range include {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, errors.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		filter.include = append(filter.include, g)
	}

	for _, pattern := range exclude {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, errors.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		filter.exclude = append(filter.exclude, g)
	}

	return filter, nil
}

// Match reports whether name is selected
func (f *GlobFilter) Match(name string) bool {
	name = strings.ToLower(name)

	for _, g := range f.exclude {
		if g.Match(name) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(name) {
			return true
		}
	}
	return false
}
