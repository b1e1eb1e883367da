// Package memstore provides an in-memory domain.StrandStore. It serves
// two roles: the deterministic fake behind the protocol and router
// tests, and the "memory" backend for running the daemon without a
// database file.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"strandbus/internal/domain"
)

// Store is a goroutine-safe in-memory strand log.
type Store struct {
	mu      sync.RWMutex
	strands map[string]*domain.Strand
	order   []string // insertion order, oldest first
	seq     int

	// Clock lets tests control time; defaults to time.Now.
	Clock func() time.Time

	// FailInsert, when set, makes the next Insert return this error once.
	// Used to exercise the router's write-failure path.
	FailInsert error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		strands: make(map[string]*domain.Strand),
		Clock:   time.Now,
	}
}

// Insert implements domain.StrandStore.
func (s *Store) Insert(_ context.Context, strand *domain.Strand) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailInsert != nil {
		err := s.FailInsert
		s.FailInsert = nil
		return "", err
	}

	s.seq++
	if strand.ID == "" {
		strand.ID = fmt.Sprintf("strand-%06d", s.seq)
	}
	if strand.CreatedAt.IsZero() {
		strand.CreatedAt = s.Clock()
	}

	cp := cloneStrand(strand)
	s.strands[cp.ID] = cp
	s.order = append(s.order, cp.ID)
	return cp.ID, nil
}

// Get implements domain.StrandStore.
func (s *Store) Get(_ context.Context, id string) (*domain.Strand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strand, ok := s.strands[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneStrand(strand), nil
}

// Query implements domain.StrandStore with the same filter semantics as
// the SQLite adapter: AND across set fields, created_at descending,
// limit applied after sorting.
func (s *Store) Query(_ context.Context, q domain.StrandQuery) ([]*domain.Strand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Strand
	for _, id := range s.order {
		strand := s.strands[id]
		if !q.Since.IsZero() && strand.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && strand.CreatedAt.After(q.Until) {
			continue
		}
		if q.TagsLike != "" && !likeMatch(strand.Tags, q.TagsLike) {
			continue
		}
		if q.TargetAgent != "" && strand.TargetAgent != q.TargetAgent {
			continue
		}
		if q.SourceAgent != "" && strand.SourceAgent != q.SourceAgent {
			continue
		}
		out = append(out, cloneStrand(strand))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AttachVector implements domain.StrandStore. Idempotent: a strand that
// already carries a vector is left untouched.
func (s *Store) AttachVector(_ context.Context, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	strand, ok := s.strands[id]
	if !ok {
		return domain.ErrNotFound
	}
	if strand.ContextVector == nil {
		strand.ContextVector = append([]float32(nil), vec...)
	}
	return nil
}

// Len returns the number of stored strands.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.strands)
}

// All returns every strand, oldest first. Test helper.
func (s *Store) All() []*domain.Strand {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Strand, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneStrand(s.strands[id]))
	}
	return out
}

// likeMatch implements the subset of SQL LIKE the bus uses: literal
// text with % wildcards.
func likeMatch(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}

	if parts[0] != "" && !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := parts[len(parts)-1]
	middle := parts[1 : len(parts)-1]

	for _, p := range middle {
		if p == "" {
			continue
		}
		idx := strings.Index(s, p)
		if idx < 0 {
			return false
		}
		s = s[idx+len(p):]
	}

	if last != "" && !strings.HasSuffix(s, last) {
		return false
	}
	return true
}

func cloneStrand(s *domain.Strand) *domain.Strand {
	cp := *s
	if s.Content != nil {
		cp.Content = make(map[string]any, len(s.Content))
		for k, v := range s.Content {
			cp.Content[k] = v
		}
	}
	cp.ContextVector = append([]float32(nil), s.ContextVector...)
	return &cp
}
