package refindex

import (
	"sync/atomic"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// Store holds the current index snapshot. Evaluations take a snapshot with
// Current and keep using it even if a newer one is swapped in.
type Store struct {
	current atomic.Pointer[Index]
}

// NewStore creates a store seeded with the given datasets.
func NewStore(data *domain.ReferenceData) *Store {
	s := &Store{}
	s.Swap(data)
	return s
}

// Current returns the active snapshot. Never nil.
func (s *Store) Current() *Index {
	if idx := s.current.Load(); idx != nil {
		return idx
	}
	return Empty()
}

// Swap builds a new index from data and makes it current.
// It returns the new snapshot.
func (s *Store) Swap(data *domain.ReferenceData) *Index {
	idx := Build(data)
	s.current.Store(idx)
	return idx
}
