// internal/storage/file_cache.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileCacheService keeps values derived from files (parsed stories, compiled
// sources) and drops them when the file's mtime or size changes.
type FileCacheService struct {
	cache      map[string]*FileCacheEntry
	mutex      sync.RWMutex
	maxSize    int
	expiration time.Duration
}

// FileCacheEntry is one cached value with the file stamp it was loaded at.
type FileCacheEntry struct {
	Data      interface{}
	CreatedAt time.Time
	LastRead  time.Time
	ModTime   time.Time
	Size      int64
}

// NewFileCacheService creates a cache of at most maxSize entries.
func NewFileCacheService(maxSize int, expiration time.Duration) *FileCacheService {
	if maxSize <= 0 {
		maxSize = 64
	}
	if expiration <= 0 {
		expiration = 5 * time.Minute
	}
	return &FileCacheService{
		cache:      make(map[string]*FileCacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
	}
}

// GetOrLoad returns the cached value for path, calling load when the entry is
// missing, expired, or the file changed on disk.
func (s *FileCacheService) GetOrLoad(path string, load func(path string) (interface{}, error)) (interface{}, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		s.Invalidate(absPath)
		return nil, err
	}

	s.mutex.Lock()
	entry, exists := s.cache[absPath]
	if exists {
		fresh := entry.ModTime.Equal(info.ModTime()) && entry.Size == info.Size() &&
			time.Since(entry.CreatedAt) <= s.expiration
		if fresh {
			entry.LastRead = time.Now()
			s.mutex.Unlock()
			return entry.Data, nil
		}
	}
	s.mutex.Unlock()

	data, err := load(absPath)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.mutex.Lock()
	s.cache[absPath] = &FileCacheEntry{
		Data:      data,
		CreatedAt: now,
		LastRead:  now,
		ModTime:   info.ModTime(),
		Size:      info.Size(),
	}
	if len(s.cache) > s.maxSize {
		s.cleanupLRU(max(1, s.maxSize/5))
	}
	s.mutex.Unlock()

	return data, nil
}

// Invalidate drops path from the cache.
func (s *FileCacheService) Invalidate(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}
	s.mutex.Lock()
	delete(s.cache, absPath)
	s.mutex.Unlock()
}

// Len reports the number of cached entries.
func (s *FileCacheService) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.cache)
}

// cleanupLRU evicts the least recently read entries; caller holds the lock
func (s *FileCacheService) cleanupLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(s.cache))
	for k, v := range s.cache {
		entries = append(entries, keyAge{k, v.LastRead})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	for i := 0; i < min(count, len(entries)); i++ {
		delete(s.cache, entries[i].key)
	}
}
