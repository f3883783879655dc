package ledger

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"gitlab.com/tozd/go/errors"
)

// Open creates the backend selected by the configuration
func Open(ctx context.Context, c *cfg.Configuration, logger zerolog.Logger) (Ledger, error) {
	switch c.Ledger.Backend {
	case cfg.LedgerPebble:
		return NewPebbleLedger(c.LedgerPath(), logger)
	case cfg.LedgerSQLite:
		if err := os.MkdirAll(filepath.Dir(c.LedgerPath()), 0o755); err != nil {
			return nil, errors.Errorf("creating ledger directory: %w", err)
		}
		return NewSQLiteLedger(c.LedgerPath(), c.Ledger.BusyTimeoutMS, logger)
	case cfg.LedgerMongo:
		return NewMongoLedger(ctx, c.Ledger.MongoURI, c.Ledger.MongoDatabase, c.Ledger.MongoCollection, logger)
	case cfg.LedgerMemory:
		return NewMemoryLedger(), nil
	default:
		return nil, errors.Errorf("unknown ledger backend: %s", c.Ledger.Backend)
	}
}
