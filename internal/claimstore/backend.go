package claimstore

import (
	"context"

	"daycal/internal/model"
	"daycal/internal/store"
)

// Backend is the keyed claim storage the client mirrors. Implementations
// must deliver the complete current set on every notification.
type Backend interface {
	// Subscribe opens a subscription whose first snapshot is the current
	// claim set.
	Subscribe(ctx context.Context) (Subscription, error)
	// Put writes (or replaces) the claim keyed by c.OwnerID.
	Put(ctx context.Context, c model.Claim) (model.Claim, error)
	// Delete removes ownerID's claim; a missing claim is not an error.
	Delete(ctx context.Context, ownerID string) error
	// Get reads ownerID's stored claim.
	Get(ctx context.Context, ownerID string) (model.Claim, bool, error)
}

// Subscription is a live feed of full snapshots.
type Subscription interface {
	// Snapshots is closed when the subscription ends for good.
	Snapshots() <-chan model.Snapshot
	// Errors reports transport problems. The subscription stays open; the
	// transport is expected to reconnect and resume delivering snapshots.
	// A nil channel means the transport never fails.
	Errors() <-chan error
	Close() error
}

type storeBackend struct {
	s *store.Store
}

// StoreBackend adapts the embedded store for in-process clients.
func StoreBackend(s *store.Store) Backend {
	return storeBackend{s: s}
}

func (b storeBackend) Subscribe(ctx context.Context) (Subscription, error) {
	sub, err := b.s.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (b storeBackend) Put(ctx context.Context, c model.Claim) (model.Claim, error) {
	return b.s.Put(ctx, c)
}

func (b storeBackend) Delete(ctx context.Context, ownerID string) error {
	return b.s.Delete(ctx, ownerID)
}

func (b storeBackend) Get(ctx context.Context, ownerID string) (model.Claim, bool, error) {
	return b.s.Get(ctx, ownerID)
}
