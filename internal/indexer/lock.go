package indexer

import "sync/atomic"

// IndexLock is a non-blocking lock guarding a full index build.
// A second build attempt fails fast instead of queueing behind the first.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a build currently holds the lock.
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}
