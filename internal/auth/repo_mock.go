package auth

import (
	"context"
	"sync"
	"time"
)

var _ adminRepo = (*repoMock)(nil)

type repoMock struct {
	mutex  sync.Mutex
	Admins map[string]*adminRecord // keyed by id
	GetErr error
}

func newRepoMock() *repoMock {
	return &repoMock{
		Admins: make(map[string]*adminRecord),
	}
}

func (r *repoMock) addAdmin(rec *adminRecord) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Admins[rec.ID] = rec
}

func (r *repoMock) GetByEmail(_ context.Context, email string) (*adminRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.GetErr != nil {
		return nil, r.GetErr
	}

	for _, rec := range r.Admins {
		if rec.Email == email {
			recCopy := *rec
			return &recCopy, nil
		}
	}
	return nil, ErrAdminNotFound
}

func (r *repoMock) GetByID(_ context.Context, id string) (*adminRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.GetErr != nil {
		return nil, r.GetErr
	}

	rec, ok := r.Admins[id]
	if !ok {
		return nil, ErrAdminNotFound
	}
	recCopy := *rec
	return &recCopy, nil
}

func (r *repoMock) UpdateLastLogin(_ context.Context, id string, lastLogin time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.Admins[id]
	if !ok {
		return ErrAdminNotFound
	}
	rec.LastLogin = &lastLogin
	rec.UpdatedAt = lastLogin
	return nil
}
