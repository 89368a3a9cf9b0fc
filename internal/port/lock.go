package port

import "context"

// LocalSerialAccess serializes callers inside the current process only. It
// gives no guarantee against writers in other processes or machines.
type LocalSerialAccess interface {
	// LockLocal blocks until the lock is held or ctx is done
	LockLocal(ctx context.Context) (unlock func(), err error)
}

// DistributedLock serializes every holder of the same key across processes.
type DistributedLock interface {
	// Acquire returns domain.ErrLockUnavailable when key could not be taken
	// within the lock's wait policy
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}
