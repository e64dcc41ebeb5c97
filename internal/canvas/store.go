// Package canvas holds the in-memory item and connection set of one
// workspace page. Every mutation swaps in a new CanvasState value; the
// previous value is never modified.
package canvas

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrDuplicateID  = errors.New("duplicate item id")
	ErrWrongPage    = errors.New("item kind not allowed on page")
)

// Observer is called after every committed change with a monotonically
// increasing revision. Observers run outside the store lock.
type Observer func(rev uint64, state domain.CanvasState)

type Option func(*Store)

// WithPage restricts the item kinds the store accepts.
func WithPage(p domain.Page) Option {
	return func(s *Store) { s.page = p }
}

// WithIDGenerator overrides uuid-based id minting.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

type Store struct {
	mu        sync.RWMutex
	page      domain.Page
	state     domain.CanvasState
	rev       uint64
	index     map[string]int
	nested    map[string]nestedRef
	observers map[int]Observer
	nextObs   int
	newID     func() string
}

func New(opts ...Option) *Store {
	s := &Store{
		state:     domain.EmptyState(),
		index:     map[string]int{},
		nested:    map[string]nestedRef{},
		observers: map[int]Observer{},
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Page() domain.Page { return s.page }

// State returns a deep copy of the current state.
func (s *Store) State() domain.CanvasState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

func (s *Store) Item(id string) (domain.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Item{}, false
	}
	return s.state.Items[i].Clone(), true
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// ── Items ──────────────────────────────────────────────────

// AddItem inserts a new item and returns it as stored. A missing id is
// minted; missing sizes get the kind's default; sizes below the floor are
// raised to it.
func (s *Store) AddItem(it domain.Item) (domain.Item, error) {
	if !it.Kind.Valid() {
		return domain.Item{}, fmt.Errorf("add item: unknown kind %q", it.Kind)
	}
	s.mu.Lock()
	if s.page != "" && !s.page.Accepts(it.Kind) {
		s.mu.Unlock()
		return domain.Item{}, fmt.Errorf("add %s item to %s: %w", it.Kind, s.page, ErrWrongPage)
	}
	it = s.prepare(it.Clone())
	if _, dup := s.index[it.ID]; dup {
		s.mu.Unlock()
		return domain.Item{}, fmt.Errorf("add item %s: %w", it.ID, ErrDuplicateID)
	}
	next := s.state
	next.Items = append(slices.Clip(s.state.Items), it)
	s.commitLocked(next)
	return it.Clone(), nil
}

// UpdateItem applies patch to a copy of the item. The id and kind cannot
// be changed by a patch and the size floor is reapplied afterwards.
func (s *Store) UpdateItem(id string, patch func(*domain.Item)) (domain.CanvasState, error) {
	return s.mutateItem(id, func(it *domain.Item) bool {
		kind := it.Kind
		patch(it)
		it.ID, it.Kind = id, kind
		return true
	})
}

// RemoveItem deletes the item and every connection touching it.
func (s *Store) RemoveItem(id string) (domain.CanvasState, error) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return s.State(), fmt.Errorf("remove item %s: %w", id, ErrItemNotFound)
	}
	next := s.state
	next.Items = slices.Delete(slices.Clone(s.state.Items), i, i+1)
	next.Connections = lo.Reject(s.state.Connections, func(c domain.Connection, _ int) bool {
		return c.Touches(id)
	})
	return s.commitLocked(next), nil
}

func (s *Store) MoveItem(id string, x, y float64) (domain.CanvasState, error) {
	return s.mutateItem(id, func(it *domain.Item) bool {
		if it.X == x && it.Y == y {
			return false
		}
		it.X, it.Y = x, y
		return true
	})
}

// ResizeItem drags a resize handle by (dx, dy) from the item's current
// bounds. An unknown handle leaves the state unchanged.
func (s *Store) ResizeItem(id string, h geometry.Handle, dx, dy float64) (domain.CanvasState, error) {
	return s.mutateItem(id, func(it *domain.Item) bool {
		if _, ok := geometry.ParseHandle(string(h)); !ok {
			return false
		}
		r := geometry.ResizeRect(it.Bounds(), h, dx, dy, geometry.MinItemSize)
		it.X, it.Y, it.Width, it.Height = r.X, r.Y, r.Width, r.Height
		return true
	})
}

// SetBounds replaces the item rectangle, flooring its size.
func (s *Store) SetBounds(id string, r geometry.Rect) (domain.CanvasState, error) {
	return s.mutateItem(id, func(it *domain.Item) bool {
		it.X, it.Y, it.Width, it.Height = r.X, r.Y, r.Width, r.Height
		return true
	})
}

func (s *Store) AddTag(id, tag string) (domain.CanvasState, error) {
	tag = strings.TrimSpace(tag)
	return s.mutateItem(id, func(it *domain.Item) bool {
		if tag == "" || it.HasTag(tag) {
			return false
		}
		it.Tags = append(it.Tags, tag)
		return true
	})
}

func (s *Store) RemoveTag(id, tag string) (domain.CanvasState, error) {
	return s.mutateItem(id, func(it *domain.Item) bool {
		if !it.HasTag(tag) {
			return false
		}
		it.Tags = lo.Without(it.Tags, tag)
		return true
	})
}

// ── Connections ────────────────────────────────────────────

// AddConnection links from to to. Self links and an already present
// ordered pair leave the state unchanged without error.
func (s *Store) AddConnection(from, to string) (domain.CanvasState, error) {
	s.mu.Lock()
	if from == to {
		st := s.state.Clone()
		s.mu.Unlock()
		return st, nil
	}
	for _, id := range []string{from, to} {
		if _, ok := s.index[id]; !ok {
			s.mu.Unlock()
			return s.State(), fmt.Errorf("connect %s -> %s: %s: %w", from, to, id, ErrItemNotFound)
		}
	}
	if lo.ContainsBy(s.state.Connections, func(c domain.Connection) bool { return c.SamePair(from, to) }) {
		st := s.state.Clone()
		s.mu.Unlock()
		return st, nil
	}
	next := s.state
	next.Connections = append(slices.Clip(s.state.Connections), domain.Connection{ID: s.newID(), From: from, To: to})
	return s.commitLocked(next), nil
}

// RemoveConnection deletes a connection by id. Unknown ids are ignored.
func (s *Store) RemoveConnection(id string) (domain.CanvasState, error) {
	s.mu.Lock()
	i := slices.IndexFunc(s.state.Connections, func(c domain.Connection) bool { return c.ID == id })
	if i < 0 {
		st := s.state.Clone()
		s.mu.Unlock()
		return st, nil
	}
	next := s.state
	next.Connections = slices.Delete(slices.Clone(s.state.Connections), i, i+1)
	return s.commitLocked(next), nil
}

// ── Whole state ────────────────────────────────────────────

// Replace swaps in an entire state, as received from a peer or restored
// from history. The state is normalized first: duplicate ids keep their
// first occurrence, and dangling, self or repeated connections are dropped.
func (s *Store) Replace(st domain.CanvasState) domain.CanvasState {
	next := Normalize(st)
	s.mu.Lock()
	return s.commitLocked(next)
}

// ReplaceMarked is Replace that hands the revision it commits to mark
// before any observer runs.
func (s *Store) ReplaceMarked(st domain.CanvasState, mark func(rev uint64)) domain.CanvasState {
	next := Normalize(st)
	s.mu.Lock()
	mark(s.rev + 1)
	return s.commitLocked(next)
}

// Append adds items and connections to the current state. Items whose id
// already exists are skipped, as are connections that would be invalid.
func (s *Store) Append(items []domain.Item, conns []domain.Connection) domain.CanvasState {
	s.mu.Lock()
	next := s.state
	next.Items = slices.Clone(s.state.Items)
	seen := make(map[string]bool, len(s.index)+len(items))
	for id := range s.index {
		seen[id] = true
	}
	for _, it := range items {
		if s.page != "" && !s.page.Accepts(it.Kind) {
			continue
		}
		it = s.prepare(it.Clone())
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		next.Items = append(next.Items, it)
	}
	next.Connections = append(slices.Clone(s.state.Connections), conns...)
	next = Normalize(next)
	return s.commitLocked(next)
}

func (s *Store) SetTransform(t geometry.Transform) domain.CanvasState {
	s.mu.Lock()
	next := s.state
	next.Transform = t.Normalize()
	if next.Transform == s.state.Transform {
		st := s.state.Clone()
		s.mu.Unlock()
		return st
	}
	return s.commitLocked(next)
}

func (s *Store) Transform() geometry.Transform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Transform
}

// Clear removes every item and connection, keeping the transform.
func (s *Store) Clear() domain.CanvasState {
	s.mu.Lock()
	next := domain.EmptyState()
	next.Transform = s.state.Transform
	return s.commitLocked(next)
}

// Normalize enforces the canvas invariants on an arbitrary state.
func Normalize(st domain.CanvasState) domain.CanvasState {
	ids := make(map[string]bool, len(st.Items))
	items := make([]domain.Item, 0, len(st.Items))
	for _, it := range st.Items {
		if it.ID == "" || ids[it.ID] || !it.Kind.Valid() {
			continue
		}
		ids[it.ID] = true
		items = append(items, floorItem(ensureBody(it.Clone())))
	}
	type pair struct{ from, to string }
	pairs := map[pair]bool{}
	conns := make([]domain.Connection, 0, len(st.Connections))
	for _, c := range st.Connections {
		p := pair{c.From, c.To}
		if c.From == c.To || !ids[c.From] || !ids[c.To] || pairs[p] {
			continue
		}
		pairs[p] = true
		conns = append(conns, c)
	}
	return domain.CanvasState{Items: items, Connections: conns, Transform: st.Transform.Normalize()}
}

// ── internals ──────────────────────────────────────────────

func (s *Store) mutateItem(id string, fn func(*domain.Item) bool) (domain.CanvasState, error) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return s.State(), fmt.Errorf("update item %s: %w", id, ErrItemNotFound)
	}
	it := s.state.Items[i].Clone()
	if !fn(&it) {
		st := s.state.Clone()
		s.mu.Unlock()
		return st, nil
	}
	it = s.prepare(it)
	next := s.state
	next.Items = slices.Clone(s.state.Items)
	next.Items[i] = it
	return s.commitLocked(next), nil
}

// prepare fills ids, bodies and size defaults. Called with mu held.
func (s *Store) prepare(it domain.Item) domain.Item {
	if it.ID == "" {
		it.ID = s.newID()
	}
	it = ensureBody(it)
	if it.Width <= 0 || it.Height <= 0 {
		w, h := defaultSize(it.Kind)
		if it.Width <= 0 {
			it.Width = w
		}
		if it.Height <= 0 {
			it.Height = h
		}
	}
	if it.Text != nil {
		for _, kind := range []domain.SubKind{domain.SubImage, domain.SubShape, domain.SubTextBox} {
			subs := it.Text.SubItems(kind)
			for j := range *subs {
				if (*subs)[j].ID == "" {
					(*subs)[j].ID = s.newID()
				}
			}
		}
	}
	return floorItem(it)
}

// commitLocked installs next, rebuilds indexes, releases mu and notifies.
func (s *Store) commitLocked(next domain.CanvasState) domain.CanvasState {
	s.state = next
	s.rev++
	s.reindex()
	rev := s.rev
	out := s.state.Clone()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(rev, out.Clone())
	}
	return out
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.state.Items))
	s.nested = map[string]nestedRef{}
	for i, it := range s.state.Items {
		s.index[it.ID] = i
		if it.Text == nil {
			continue
		}
		for _, kind := range []domain.SubKind{domain.SubImage, domain.SubShape, domain.SubTextBox} {
			for j, sub := range *it.Text.SubItems(kind) {
				s.nested[sub.ID] = nestedRef{Parent: it.ID, Kind: kind, Pos: j}
			}
		}
	}
}

func ensureBody(it domain.Item) domain.Item {
	switch it.Kind {
	case domain.KindText:
		if it.Text == nil {
			it.Text = &domain.TextBody{}
		}
	case domain.KindImage:
		if it.Image == nil {
			it.Image = &domain.ImageBody{}
		}
	case domain.KindShape:
		if it.Shape == nil {
			it.Shape = &domain.ShapeBody{
				ShapeType:   domain.ShapeBox,
				FillColor:   domain.DefaultFillColor,
				StrokeColor: domain.DefaultStrokeColor,
				StrokeWidth: domain.DefaultStrokeWidth,
			}
		}
	case domain.KindCard:
		if it.Card == nil {
			it.Card = &domain.StoryCardBody{Status: domain.StatusPending}
		}
		if it.Card.Status == "" {
			it.Card.Status = domain.StatusPending
		}
	}
	return it
}

func floorItem(it domain.Item) domain.Item {
	it.Width = floor(it.Width, geometry.MinItemSize)
	it.Height = floor(it.Height, geometry.MinItemSize)
	if it.Text != nil {
		for _, kind := range []domain.SubKind{domain.SubImage, domain.SubShape, domain.SubTextBox} {
			subs := *it.Text.SubItems(kind)
			for j := range subs {
				subs[j].Width = floor(subs[j].Width, geometry.MinNestedSize)
				subs[j].Height = floor(subs[j].Height, geometry.MinNestedSize)
			}
		}
	}
	return it
}

func floor(v, min float64) float64 {
	if math.IsNaN(v) || v < min {
		return min
	}
	return v
}

func defaultSize(k domain.ItemKind) (float64, float64) {
	switch k {
	case domain.KindCard:
		return domain.StoryCardWidth, domain.StoryCardHeight
	case domain.KindShape:
		return 150, 150
	case domain.KindImage:
		return 300, 200
	}
	return geometry.DefaultItemWidth, geometry.DefaultItemHeight
}
