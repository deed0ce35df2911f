package quote

import "context"

//go:generate mockgen -source=store.go -destination=mocks/store.go -package=mocks Store

// Store is durable keyed storage for quotes. Create assigns the id
// atomically: two concurrent creators never collide on the same id.
// FindByID returns sentinel.ErrNotFound (wrapped) on a miss.
type Store interface {
	Create(ctx context.Context, q *Quote) error
	FindByID(ctx context.Context, id int64) (*Quote, error)
}
