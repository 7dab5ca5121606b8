package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var _ eventsRepo = (*repoMock)(nil)

type repoMock struct {
	mutex   sync.Mutex
	Events  []Event
	nextID  int
	AddErr  error
	ListErr error
}

func newRepoMock() *repoMock {
	return &repoMock{
		nextID: 1,
	}
}

func (r *repoMock) Add(_ context.Context, event *Event) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.AddErr != nil {
		return r.AddErr
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.ID = r.nextID
	r.nextID++
	r.Events = append(r.Events, *event)
	return nil
}

func (r *repoMock) FailedLogins(_ context.Context, email string, since time.Time) ([]Event, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.ListErr != nil {
		return nil, r.ListErr
	}

	var failed []Event
	// most recent first, matching the psql repo ordering
	for i := len(r.Events) - 1; i >= 0; i-- {
		e := r.Events[i]
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

func (r *repoMock) ListAfter(_ context.Context, after time.Time, limit int) ([]Event, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.ListErr != nil {
		return nil, r.ListErr
	}

	var events []Event
	for _, e := range r.Events {
		if e.CreatedAt.After(after) {
			events = append(events, e)
		}
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (r *repoMock) EventsCount(_ context.Context) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.ListErr != nil {
		return -1, errors.New("events count failed")
	}
	return len(r.Events), nil
}
