package telemetry

import (
	"context"
	"sync"
	"time"
)

// PendingCounter reports how many catalogs are waiting to be published
type PendingCounter interface {
	Pending(ctx context.Context) (int, error)
}

// SourceCollector periodically samples the source folder and updates the
// pending files gauge between runs.
type SourceCollector struct {
	source   PendingCounter
	gauge    Gauge
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSourceCollector creates a collector
func NewSourceCollector(source PendingCounter, gauge Gauge, interval time.Duration) *SourceCollector {
	return &SourceCollector{
		source:   source,
		gauge:    gauge,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (sc *SourceCollector) Start() {
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop stops the collector and waits for the loop to exit
func (sc *SourceCollector) Stop() {
	sc.stopOnce.Do(func() { close(sc.stopCh) })
	sc.wg.Wait()
}

func (sc *SourceCollector) collectLoop() {
	defer sc.wg.Done()

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.collect()

	for {
		select {
		case <-ticker.C:
			sc.collect()
		case <-sc.stopCh:
			return
		}
	}
}

func (sc *SourceCollector) collect() {
	if sc.source == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sc.interval)
	defer cancel()

	if n, err := sc.source.Pending(ctx); err == nil {
		sc.gauge.Set(float64(n))
	}
}
