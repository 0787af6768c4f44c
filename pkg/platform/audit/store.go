package audit

import "context"

// Store is the append-only audit log. There is no update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByTarget(ctx context.Context, target string) ([]Event, error)
}
