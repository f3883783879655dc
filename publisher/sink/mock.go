package sink

import (
	"context"
	"sync"

	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher"
)

// MockSink records published items for inspection in tests
type MockSink struct {
	StageName  ledger.Stage
	Items      []publisher.Item
	Details    map[string]string
	PublishErr error
	mu         sync.Mutex
}

// NewMockSink returns a mock for stage
func NewMockSink(stage ledger.Stage) *MockSink {
	return &MockSink{StageName: stage}
}

func (m *MockSink) Stage() ledger.Stage {
	return m.StageName
}

// Publish records item, then fails with PublishErr when set
func (m *MockSink) Publish(ctx context.Context, item publisher.Item) (publisher.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Items = append(m.Items, item)

	details := make(map[string]string, len(m.Details))
	for k, v := range m.Details {
		details[k] = v
	}
	return publisher.Receipt{Details: details}, m.PublishErr
}

// Names returns the target names published so far
func (m *MockSink) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.Items))
	for i, item := range m.Items {
		names[i] = item.Name
	}
	return names
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// Reset clears all recorded items
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Items = nil
}
