package sink

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher"
	"gitlab.com/tozd/go/errors"
)

// LocalSink mirrors catalogs into a local folder under their original name
type LocalSink struct {
	dir    string
	logger zerolog.Logger
}

// NewLocalSink creates a sink writing into dir
func NewLocalSink(dir string, logger zerolog.Logger) (*LocalSink, error) {
	if dir == "" {
		return nil, errors.New("local sink requires a destination path")
	}
	return &LocalSink{
		dir:    dir,
		logger: logger.With().Str("sink", "local").Logger(),
	}, nil
}

func (s *LocalSink) Stage() ledger.Stage {
	return ledger.StageLocal
}

// Publish writes the content through a temp file and renames it into place,
// so the mirror never holds a partial catalog. Source mtime and permission
// bits are carried over.
func (s *LocalSink) Publish(ctx context.Context, item publisher.Item) (publisher.Receipt, error) {
	receipt := publisher.Receipt{Details: map[string]string{
		"source": item.Source.FullPath,
		"action": "copy",
	}}

	if err := ctx.Err(); err != nil {
		return receipt, err
	}
	if item.Name == "" || filepath.Base(item.Name) != item.Name {
		return receipt, errors.Errorf("invalid target name %q", item.Name)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return receipt, errors.Errorf("creating %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+item.Name+".*.tmp")
	if err != nil {
		return receipt, errors.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(item.Content); err != nil {
		tmp.Close()
		return receipt, errors.Errorf("writing %s: %w", item.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return receipt, errors.Errorf("closing %s: %w", item.Name, err)
	}

	mode := item.Source.Mode.Perm()
	if mode == 0 {
		mode = 0o644
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return receipt, errors.Errorf("chmod %s: %w", item.Name, err)
	}
	if !item.Source.ModifiedAt.IsZero() {
		if err := os.Chtimes(tmpName, item.Source.ModifiedAt, item.Source.ModifiedAt); err != nil {
			return receipt, errors.Errorf("chtimes %s: %w", item.Name, err)
		}
	}

	target := filepath.Join(s.dir, item.Name)
	if err := os.Rename(tmpName, target); err != nil {
		return receipt, errors.Errorf("renaming into %s: %w", target, err)
	}

	s.logger.Debug().Str("file", item.Name).Str("target", target).Msg("Catalog copied")
	return receipt, nil
}

func (s *LocalSink) Close() error {
	return nil
}
