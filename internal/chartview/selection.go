package chartview

import (
	"errors"
	"sort"
)

// ErrLimit is returned when a toggle would grow the selection past its cap.
var ErrLimit = errors.New("selection limit reached")

// Selection is the set of song ids chosen for the pending vote. It is keyed
// against the fetched dataset, not the currently visible filtered subset:
// tab and search changes never shrink it, only dataset changes do (Prune).
type Selection struct {
	max int
	ids map[int]struct{}
}

// NewSelection builds an empty selection with the given cap.
func NewSelection(max int) *Selection {
	return &Selection{max: max, ids: make(map[int]struct{})}
}

// Max returns the configured cap.
func (s *Selection) Max() int { return s.max }

func (s *Selection) Len() int { return len(s.ids) }

func (s *Selection) Has(id int) bool {
	_, ok := s.ids[id]
	return ok
}

// Toggle removes id if present; otherwise adds it unless the cap is
// reached, in which case ErrLimit is returned and nothing changes.
func (s *Selection) Toggle(id int) error {
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return nil
	}
	if len(s.ids) >= s.max {
		return ErrLimit
	}
	s.ids[id] = struct{}{}
	return nil
}

// Prune intersects the selection with the ids of a freshly fetched dataset.
// Called on week/dataset changes only, never for client-side filtering.
func (s *Selection) Prune(datasetIDs []int) {
	keep := make(map[int]struct{}, len(datasetIDs))
	for _, id := range datasetIDs {
		keep[id] = struct{}{}
	}
	for id := range s.ids {
		if _, ok := keep[id]; !ok {
			delete(s.ids, id)
		}
	}
}

// Clear empties the selection. Called on successful vote submission.
func (s *Selection) Clear() {
	s.ids = make(map[int]struct{})
}

// Replace resets the selection to the given ids, respecting the cap.
// Used when restoring a persisted ballot.
func (s *Selection) Replace(ids []int) {
	s.ids = make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if len(s.ids) >= s.max {
			break
		}
		s.ids[id] = struct{}{}
	}
}

// IDs returns the members in ascending order. The slice is a copy.
func (s *Selection) IDs() []int {
	out := make([]int, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
