package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/autopost/pkg/models"
)

// MockPublisher satisfies models.Publisher for testing.
type MockPublisher struct {
	Name_       string
	PublishFunc func(ctx context.Context, req models.PublishRequest) (models.PublishReceipt, error)

	mu    sync.Mutex
	calls []models.PublishRequest
}

func (m *MockPublisher) Name() string { return m.Name_ }

func (m *MockPublisher) Publish(ctx context.Context, req models.PublishRequest) (models.PublishReceipt, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, req)
	}
	return models.PublishReceipt{}, nil
}

// Calls returns a copy of every request received so far.
func (m *MockPublisher) Calls() []models.PublishRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PublishRequest(nil), m.calls...)
}

// CallCount returns how many times Publish was invoked.
func (m *MockPublisher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// NewMockPublisher returns a MockPublisher that succeeds with "<target>-post".
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Name_: "mock",
		PublishFunc: func(_ context.Context, req models.PublishRequest) (models.PublishReceipt, error) {
			return models.PublishReceipt{RemotePostID: fmt.Sprintf("%s-post", req.Target)}, nil
		},
	}
}

// NewFailingPublisher returns a MockPublisher that always returns the given error.
func NewFailingPublisher(err error) *MockPublisher {
	return &MockPublisher{
		Name_: "mock-failing",
		PublishFunc: func(_ context.Context, _ models.PublishRequest) (models.PublishReceipt, error) {
			return models.PublishReceipt{}, err
		},
	}
}

// NewBlockingPublisher returns a MockPublisher that blocks until context is cancelled.
func NewBlockingPublisher() *MockPublisher {
	return &MockPublisher{
		Name_: "mock-blocking",
		PublishFunc: func(ctx context.Context, _ models.PublishRequest) (models.PublishReceipt, error) {
			<-ctx.Done()
			return models.PublishReceipt{}, ctx.Err()
		},
	}
}

// NewPanickingPublisher returns a MockPublisher whose Publish panics.
func NewPanickingPublisher() *MockPublisher {
	return &MockPublisher{
		Name_: "mock-panicking",
		PublishFunc: func(_ context.Context, req models.PublishRequest) (models.PublishReceipt, error) {
			panic("publisher exploded on " + req.Target)
		},
	}
}

// Compile-time check that MockPublisher implements Publisher.
var _ models.Publisher = (*MockPublisher)(nil)
