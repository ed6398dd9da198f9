package ports

import "context"

// LockCoordinator grants short-lived mutual exclusion per key. Acquire never waits.
type LockCoordinator interface {
	Acquire(ctx context.Context, key, holder string) (bool, error)
	Release(ctx context.Context, key, holder string) error
}
