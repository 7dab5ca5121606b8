package audit

import (
	"context"
	"sync"
	"time"
)

// TestRecorder is an in-memory recorder for unit tests in other packages
type TestRecorder struct {
	mutex  sync.Mutex
	events []Event
	nextID int

	// FailedLoginsErr simulates an unreachable audit store
	FailedLoginsErr error
}

func NewTestRecorder() *TestRecorder {
	return &TestRecorder{
		nextID: 1,
	}
}

func (r *TestRecorder) Record(_ context.Context, event *Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.ID = r.nextID
	r.nextID++
	r.events = append(r.events, *event)
}

func (r *TestRecorder) FailedLogins(_ context.Context, email string, since time.Time) ([]Event, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.FailedLoginsErr != nil {
		return nil, r.FailedLoginsErr
	}

	var failed []Event
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.Type != EventTypeLoginFailed || !e.CreatedAt.After(since) {
			continue
		}
		if eventEmail, ok := e.Metadata["email"].(string); !ok || eventEmail != email {
			continue
		}
		failed = append(failed, e)
	}
	return failed, nil
}

// Events returns a copy of all recorded events in insertion order
func (r *TestRecorder) Events() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)
	return events
}

// EventsOfType returns recorded events of the given type
func (r *TestRecorder) EventsOfType(eventType EventType) []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var events []Event
	for _, e := range r.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	return events
}

// SetEventTime overrides the created-at of the i-th recorded event,
// used to unit test time-window logic
func (r *TestRecorder) SetEventTime(i int, createdAt time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events[i].CreatedAt = createdAt
}
