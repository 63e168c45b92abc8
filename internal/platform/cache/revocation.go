package cache

import (
	"context"
	"time"
)

const revokedPrefix = "session:revoked:"

// Revocations tracks logged-out session token ids until they expire on
// their own. It satisfies auth.RevocationStore.
type Revocations struct {
	store Store
}

func NewRevocations(store Store) *Revocations {
	return &Revocations{store: store}
}

func (r *Revocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.store.Set(ctx, revokedPrefix+tokenID, []byte("1"), ttl)
}

func (r *Revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	_, err := r.store.Get(ctx, revokedPrefix+tokenID)
	if err == ErrMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
