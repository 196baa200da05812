package gateway

import "sync"

// FailureStreaks counts consecutive upstream failures per provider across
// requests. It is the only state the forwarder shares between requests.
type FailureStreaks struct {
	mu       sync.RWMutex
	counters map[string]*streak
}

type streak struct {
	mu sync.Mutex
	n  int
}

func NewFailureStreaks() *FailureStreaks {
	return &FailureStreaks{counters: make(map[string]*streak)}
}

// get returns (or lazily creates) the counter for a provider.
func (f *FailureStreaks) get(provider string) *streak {
	f.mu.RLock()
	s, ok := f.counters[provider]
	f.mu.RUnlock()
	if ok {
		return s
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Double-check after acquiring write lock
	if s, ok := f.counters[provider]; ok {
		return s
	}
	s = &streak{}
	f.counters[provider] = s
	return s
}

// Fail records a failure and returns the new streak length.
func (f *FailureStreaks) Fail(provider string) int {
	s := f.get(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

// Reset clears a provider's streak.
func (f *FailureStreaks) Reset(provider string) {
	s := f.get(provider)
	s.mu.Lock()
	s.n = 0
	s.mu.Unlock()
}

func (f *FailureStreaks) Count(provider string) int {
	s := f.get(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
