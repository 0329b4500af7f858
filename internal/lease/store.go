package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// StoreLocker holds leases through a conditional write on the pipeline state.
type StoreLocker struct {
	store LeaseStore
	owner string
}

// NewStoreLocker creates a locker acting as owner. Each acquisition writes
// its own token, owner/<uuid>, so lockers sharing a configured id still
// exclude each other.
func NewStoreLocker(st LeaseStore, owner string) *StoreLocker {
	return &StoreLocker{store: st, owner: owner}
}

// Acquire claims the document if its lease is free or expired.
func (l *StoreLocker) Acquire(ctx context.Context, documentID string, ttl time.Duration) (Lease, error) {
	token := l.owner + "/" + uuid.NewString()
	ok, err := l.store.AcquireLease(ctx, documentID, token, ttl)
	if err != nil {
		return nil, eris.Wrapf(err, "lease: acquire %s", documentID)
	}
	if !ok {
		return nil, eris.Wrapf(ErrNotObtained, "lease: %s", documentID)
	}
	return &storeLease{store: l.store, documentID: documentID, owner: token}, nil
}

type storeLease struct {
	store      LeaseStore
	documentID string
	owner      string
}

func (s *storeLease) Release(ctx context.Context) error {
	return eris.Wrapf(s.store.ReleaseLease(ctx, s.documentID, s.owner), "lease: release %s", s.documentID)
}
