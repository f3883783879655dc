package notify

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"gitlab.com/tozd/go/errors"
)

// TransportFactory builds a transport from configuration. It returns a nil
// Transport and nil error when the transport is disabled.
type TransportFactory func(c *cfg.Configuration, logger zerolog.Logger) (Transport, error)

var (
	transportFactories = make(map[string]TransportFactory)
	factoryMu          sync.RWMutex
)

// RegisterTransport registers a transport factory under name
func RegisterTransport(name string, factory TransportFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transportFactories[name] = factory
}

// RegisteredTransports lists registered factory names in sorted order
func RegisteredTransports() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(transportFactories))
	for name := range transportFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildTransports creates every enabled transport. On error, transports
// already created are closed.
func BuildTransports(c *cfg.Configuration, logger zerolog.Logger) ([]Transport, error) {
	transports := make([]Transport, 0)

	for _, name := range RegisteredTransports() {
		factoryMu.RLock()
		factory := transportFactories[name]
		factoryMu.RUnlock()

		t, err := factory(c, logger)
		if err != nil {
			for _, built := range transports {
				built.Close()
			}
			return nil, errors.Errorf("creating %s transport: %w", name, err)
		}
		if t == nil {
			continue
		}

		transports = append(transports, t)
		logger.Info().Str("transport", name).Msg("Notification transport enabled")
	}

	return transports, nil
}
