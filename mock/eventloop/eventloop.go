// Package eventloop provides a mock event loop for testing event producers.
package eventloop

import (
	"sync"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
)

// MockEventLoop records pushed events instead of dispatching them.
type MockEventLoop struct {
	lock sync.Mutex

	// EventQueue contains all events pushed so far, in order.
	EventQueue []controller.Event

	// PushError, when set, makes PushEvent fail without queueing,
	// simulating a closed event loop.
	PushError error
}

// PushEvent appends the event to the queue.
func (m *MockEventLoop) PushEvent(event controller.Event) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.PushError != nil {
		return m.PushError
	}
	m.EventQueue = append(m.EventQueue, event)
	return nil
}

// QueuedEvents returns a snapshot of the queue, safe against concurrent
// producers.
func (m *MockEventLoop) QueuedEvents() []controller.Event {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]controller.Event(nil), m.EventQueue...)
}
