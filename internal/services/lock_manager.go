// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager hands out one mutex per preview session id.
type LockManager struct {
	locks      map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration

	cleanupTicker *time.Ticker
	stop          chan struct{}
	stopOnce      sync.Once
}

// LockInfo wraps a lock with its usage bookkeeping.
type LockInfo struct {
	Mutex    *sync.Mutex
	LastUsed time.Time
	// refs counts holders and waiters; a referenced lock is never cleaned up
	refs int
}

// NewLockManager creates a lock manager; idle locks older than ttl are dropped.
func NewLockManager(ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	lm := &LockManager{
		locks:   make(map[string]*LockInfo),
		lockTTL: ttl,
		stop:    make(chan struct{}),
	}
	lm.startCleanup()
	return lm
}

func (lm *LockManager) acquire(id string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, ok := lm.locks[id]
	if !ok {
		info = &LockInfo{Mutex: &sync.Mutex{}}
		lm.locks[id] = info
	}
	info.refs++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	info.refs--
	info.LastUsed = time.Now()
}

// ExecuteWithLock runs fn while holding the lock for id.
func (lm *LockManager) ExecuteWithLock(id string, fn func() error) error {
	info := lm.acquire(id)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// Forget drops the lock for id once nobody holds it.
func (lm *LockManager) Forget(id string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	if info, ok := lm.locks[id]; ok && info.refs == 0 {
		delete(lm.locks, id)
	}
}

// Len returns the number of tracked locks.
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}

// Stop ends the cleanup goroutine.
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stop)
	})
}

// drop idle locks periodically
func (lm *LockManager) startCleanup() {
	lm.cleanupTicker = time.NewTicker(lm.lockTTL / 2)
	go func() {
		defer lm.cleanupTicker.Stop()
		for {
			select {
			case <-lm.cleanupTicker.C:
				lm.cleanupUnusedLocks(time.Now())
			case <-lm.stop:
				return
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks(now time.Time) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	for id, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, id)
		}
	}
}
