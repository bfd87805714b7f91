package engine

import (
	"sort"
	"strings"
	"sync"
)

// URLSet is a concurrency-safe set of URLs. The scheduler adds every
// failed channel URL to the caller-provided set; completions race, so the
// set must tolerate concurrent writers.
type URLSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func NewURLSet() *URLSet {
	return &URLSet{m: make(map[string]struct{})}
}

func (s *URLSet) Add(url string) {
	if s == nil || url == "" {
		return
	}
	s.mu.Lock()
	s.m[url] = struct{}{}
	s.mu.Unlock()
}

func (s *URLSet) Has(url string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	_, ok := s.m[url]
	s.mu.Unlock()
	return ok
}

func (s *URLSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	n := len(s.m)
	s.mu.Unlock()
	return n
}

// Sorted returns the URLs in lexical order, for stable output files.
func (s *URLSet) Sorted() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := make([]string, 0, len(s.m))
	for u := range s.m {
		out = append(out, u)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// NameSet is a case-insensitive set of channel names, used for the
// whitelist. It is built once before a batch and read-only afterwards.
type NameSet map[string]struct{}

func NewNameSet(names []string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s NameSet) Has(name string) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
