// Package source lists, reads and removes catalog files in the shared
// publication folder.
package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// ErrInvalidName is returned when a file name would escape the source folder
var ErrInvalidName = errors.Base("invalid catalog file name")

// CatalogFile is a candidate file found by a scan. It is immutable for the
// duration of a run.
type CatalogFile struct {
	FileName   string      `json:"file_name"`
	FullPath   string      `json:"full_path"`
	Size       int64       `json:"size"`
	ModifiedAt time.Time   `json:"modified_at"`
	Mode       fs.FileMode `json:"mode"`
}

// Scanner operates on a single source folder
type Scanner struct {
	dir    string
	filter *GlobFilter
	logger zerolog.Logger
}

// NewScanner creates a scanner over dir. A nil filter selects every file.
func NewScanner(dir string, filter *GlobFilter, logger zerolog.Logger) *Scanner {
	if filter == nil {
		filter = &GlobFilter{}
	}
	return &Scanner{
		dir:    dir,
		filter: filter,
		logger: logger.With().Str("component", "source").Str("dir", dir).Logger(),
	}
}

// Dir returns the scanned folder
func (s *Scanner) Dir() string {
	return s.dir
}

// Scan lists matching regular files in name order. An unreachable folder is
// logged and yields an empty list so the run can finish normally. The only
// error returned is a cancelled context.
func (s *Scanner) Scan(ctx context.Context) ([]CatalogFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("Source folder is not accessible")
		return []CatalogFile{}, nil
	}

	files := make([]CatalogFile, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !s.filter.Match(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable entry")
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, CatalogFile{
			FileName:   entry.Name(),
			FullPath:   filepath.Join(s.dir, entry.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
			Mode:       info.Mode().Perm(),
		})
	}

	s.logger.Debug().Int("files", len(files)).Msg("Scan complete")
	return files, nil
}

// Read returns the full content of file
func (s *Scanner) Read(file CatalogFile) ([]byte, error) {
	data, err := os.ReadFile(file.FullPath)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", file.FileName, err)
	}
	return data, nil
}

// Delete removes fileName from the source folder. A file that is already gone
// counts as deleted.
func (s *Scanner) Delete(fileName string) error {
	if fileName == "" || fileName == "." || fileName == ".." || filepath.Base(fileName) != fileName {
		return errors.Errorf("%w: %q", ErrInvalidName, fileName)
	}

	err := os.Remove(filepath.Join(s.dir, fileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Errorf("deleting %s: %w", fileName, err)
	}
	return nil
}

// Pending is the number of catalogs currently waiting in the source folder
func (s *Scanner) Pending(ctx context.Context) (int, error) {
	files, err := s.Scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}
