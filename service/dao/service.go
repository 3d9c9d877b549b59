package dao

import (
	"context"
)

// Entity is the document contract the state DAOs persist: an entity names
// its own key and knows how to deep-copy itself, which is what lets
// implementations honor clone-on-return without reflection. Canister
// snapshots are the canonical entity.
type Entity[K comparable, T any] interface {
	EntityID() K
	Clone() *T
}

// Service is the generic persistence contract for keyed state entities.
// *T is expected to satisfy Entity[K, T]. Implementations are safe for
// concurrent use and never hand out aliases of their internal storage.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
