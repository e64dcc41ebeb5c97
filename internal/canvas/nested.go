package canvas

import (
	"fmt"
	"slices"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

// nestedRef locates a sub-item inside its parent text item.
type nestedRef struct {
	Parent string
	Kind   domain.SubKind
	Pos    int
}

// ParentOf returns the parent item id and collection of a nested sub-item.
func (s *Store) ParentOf(childID string) (string, domain.SubKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.nested[childID]
	return ref.Parent, ref.Kind, ok
}

func (s *Store) Nested(childID string) (domain.SubItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.nested[childID]
	if !ok {
		return domain.SubItem{}, false
	}
	it := s.state.Items[s.index[ref.Parent]]
	return (*it.Text.SubItems(ref.Kind))[ref.Pos], true
}

// AddNested appends a sub-item to a text item and returns it as stored.
func (s *Store) AddNested(parentID string, kind domain.SubKind, sub domain.SubItem) (domain.SubItem, error) {
	if sub.ID == "" {
		sub.ID = s.newID()
	}
	if sub.Width <= 0 {
		sub.Width = 100
	}
	if sub.Height <= 0 {
		sub.Height = 100
	}
	var stored domain.SubItem
	_, err := s.mutateItem(parentID, func(it *domain.Item) bool {
		if it.Kind != domain.KindText {
			return false
		}
		subs := it.Text.SubItems(kind)
		if subs == nil {
			return false
		}
		*subs = append(*subs, sub)
		stored = sub
		return true
	})
	if err != nil {
		return domain.SubItem{}, err
	}
	if stored.ID == "" {
		return domain.SubItem{}, fmt.Errorf("add nested %s to %s: parent is not a text item", kind, parentID)
	}
	stored.Width = floor(stored.Width, geometry.MinNestedSize)
	stored.Height = floor(stored.Height, geometry.MinNestedSize)
	return stored, nil
}

// UpdateNested applies patch to a copy of a sub-item. The id is preserved
// and the nested size floor is reapplied.
func (s *Store) UpdateNested(childID string, patch func(*domain.SubItem)) (domain.CanvasState, error) {
	s.mu.RLock()
	ref, ok := s.nested[childID]
	s.mu.RUnlock()
	if !ok {
		return s.State(), fmt.Errorf("update nested %s: %w", childID, ErrItemNotFound)
	}
	return s.mutateItem(ref.Parent, func(it *domain.Item) bool {
		subs := it.Text.SubItems(ref.Kind)
		i := slices.IndexFunc(*subs, func(x domain.SubItem) bool { return x.ID == childID })
		if i < 0 {
			return false
		}
		patch(&(*subs)[i])
		(*subs)[i].ID = childID
		return true
	})
}

func (s *Store) MoveNested(childID string, x, y float64) (domain.CanvasState, error) {
	return s.UpdateNested(childID, func(sub *domain.SubItem) {
		sub.X, sub.Y = x, y
	})
}

func (s *Store) SetNestedBounds(childID string, r geometry.Rect) (domain.CanvasState, error) {
	return s.UpdateNested(childID, func(sub *domain.SubItem) {
		sub.X, sub.Y, sub.Width, sub.Height = r.X, r.Y, r.Width, r.Height
	})
}

func (s *Store) RemoveNested(childID string) (domain.CanvasState, error) {
	s.mu.RLock()
	ref, ok := s.nested[childID]
	s.mu.RUnlock()
	if !ok {
		return s.State(), fmt.Errorf("remove nested %s: %w", childID, ErrItemNotFound)
	}
	return s.mutateItem(ref.Parent, func(it *domain.Item) bool {
		subs := it.Text.SubItems(ref.Kind)
		n := len(*subs)
		*subs = slices.DeleteFunc(*subs, func(x domain.SubItem) bool { return x.ID == childID })
		return len(*subs) != n
	})
}
