package policy

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultFlagCacheSize bounds the number of day/scope entries kept.
const DefaultFlagCacheSize = 512

// FlagStore holds per-scope once-per-day flags. Keys carry the day, so a
// new day starts with clean flags and old days age out of the cache.
type FlagStore struct {
	cache *lru.Cache[string, Flags]
}

// NewFlagStore creates an empty flag store.
func NewFlagStore(size int) (*FlagStore, error) {
	if size <= 0 {
		size = DefaultFlagCacheSize
	}
	cache, err := lru.New[string, Flags](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create flag cache: %w", err)
	}
	return &FlagStore{cache: cache}, nil
}

func flagKey(day string, scope Scope) string {
	return day + "|" + string(scope)
}

// Get returns the flags of scope on day.
func (s *FlagStore) Get(day string, scope Scope) Flags {
	f, _ := s.cache.Get(flagKey(day, scope))
	return f
}

// Set stores the flags of scope on day.
func (s *FlagStore) Set(day string, scope Scope, f Flags) {
	if f == (Flags{}) {
		return
	}
	s.cache.Add(flagKey(day, scope), f)
}
