// Package store holds per-resource client-side state mirroring a REST
// collection on the backend.
//
// A Store keeps the last fetched list, a current item and the loading flags a
// view needs. Mutations are reconciled from the server's reply rather than by
// re-fetching the collection. Failures are recorded on the store for display
// and also returned to the caller; nothing is retried.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/persist"
)

// Entity is anything with a stable backend id.
type Entity interface {
	GetID() string
}

// Doer is the slice of api.Client a Store needs.
type Doer interface {
	Do(ctx context.Context, method, endpoint string, body any, opts ...api.RequestOption) (api.Result, error)
}

// EntityState is a snapshot of a Store. Items never holds two elements with
// the same id.
type EntityState[T Entity] struct {
	Items       []T
	CurrentItem *T
	Loading     bool
	LoadingItem bool
	Submitting  bool
	Error       string
}

type Config struct {
	// Name identifies the store in logs and in its snapshot key.
	Name     string
	Endpoint string
	// Persist saves Items and CurrentItem through Persister after each change.
	Persist   bool
	Persister persist.Persister
	Logger    *zerolog.Logger
}

type Store[T Entity] struct {
	client   Doer
	name     string
	endpoint string
	persist  persist.Persister
	logger   zerolog.Logger

	mu    sync.Mutex
	state EntityState[T]
	rev   uint64 // bumped under mu by every persisted change

	// saveMu orders snapshot writes; saved is the rev last written.
	saveMu sync.Mutex
	saved  uint64
}

// snapshot is the persisted subset of EntityState.
type snapshot[T Entity] struct {
	Items       []T `json:"items"`
	CurrentItem *T  `json:"currentItem,omitempty"`
}

func New[T Entity](client Doer, cfg Config) *Store[T] {
	s := &Store[T]{
		client:   client,
		name:     cfg.Name,
		endpoint: "/" + strings.Trim(cfg.Endpoint, "/"),
		logger:   zerolog.Nop(),
	}
	if cfg.Logger != nil {
		s.logger = cfg.Logger.With().Str("store", cfg.Name).Logger()
	}
	if cfg.Persist {
		s.persist = cfg.Persister
		if s.persist == nil {
			s.persist = persist.Nop{}
		}
	}
	return s
}

func (s *Store[T]) Name() string     { return s.name }
func (s *Store[T]) Endpoint() string { return s.endpoint }

// State returns a copy of the current state.
func (s *Store[T]) State() EntityState[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store[T]) copyLocked() EntityState[T] {
	st := s.state
	st.Items = append([]T(nil), s.state.Items...)
	if s.state.CurrentItem != nil {
		cur := *s.state.CurrentItem
		st.CurrentItem = &cur
	}
	return st
}

// Find returns the cached item with id.
func (s *Store[T]) Find(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.state.Items {
		if it.GetID() == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// GetAll replaces Items with the backend collection. A reply that is not
// list-shaped yields an empty collection.
func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	s.update(false, func(st *EntityState[T]) {
		st.Loading = true
		st.Error = ""
	})

	res, err := s.client.Do(ctx, http.MethodGet, s.endpoint, nil)
	var items []T
	if err == nil {
		if raw, ok := res.List(); ok {
			err = json.Unmarshal(raw, &items)
		}
	}
	if err != nil {
		s.fail(err, func(st *EntityState[T]) { st.Loading = false })
		return nil, err
	}

	items = dedupe(items)
	s.update(true, func(st *EntityState[T]) {
		st.Items = items
		st.Loading = false
	})
	s.logger.Debug().Int("count", len(items)).Msg("loaded collection")
	return append([]T(nil), items...), nil
}

// GetByID fetches one item into CurrentItem.
func (s *Store[T]) GetByID(ctx context.Context, id string) (T, error) {
	s.update(false, func(st *EntityState[T]) {
		st.LoadingItem = true
		st.Error = ""
	})

	var item T
	err := s.do(ctx, http.MethodGet, s.itemURL(id), nil, &item)
	if err != nil {
		s.fail(err, func(st *EntityState[T]) { st.LoadingItem = false })
		return item, err
	}

	s.update(true, func(st *EntityState[T]) {
		st.CurrentItem = &item
		st.LoadingItem = false
	})
	return item, nil
}

// Create POSTs partial and puts the created item at the head of Items.
func (s *Store[T]) Create(ctx context.Context, partial any, opts ...api.RequestOption) (T, error) {
	s.beginSubmit()

	var item T
	if err := s.do(ctx, http.MethodPost, s.endpoint, partial, &item, opts...); err != nil {
		s.fail(err, func(st *EntityState[T]) { st.Submitting = false })
		return item, err
	}

	s.update(true, func(st *EntityState[T]) {
		st.Items = append([]T{item}, without(st.Items, item.GetID())...)
		st.Submitting = false
	})
	s.logger.Debug().Str("id", item.GetID()).Msg("created")
	return item, nil
}

// Update PUTs partial to the item and reconciles the reply by id.
func (s *Store[T]) Update(ctx context.Context, id string, partial any) (T, error) {
	return s.modify(ctx, http.MethodPut, id, partial)
}

// Patch PATCHes partial to the item and reconciles the reply by id.
func (s *Store[T]) Patch(ctx context.Context, id string, partial any) (T, error) {
	return s.modify(ctx, http.MethodPatch, id, partial)
}

// modify replaces the element with id by the server's reply. An id that is
// not in Items is left absent; partial data is never inserted.
func (s *Store[T]) modify(ctx context.Context, method, id string, partial any) (T, error) {
	s.beginSubmit()

	var item T
	if err := s.do(ctx, method, s.itemURL(id), partial, &item); err != nil {
		s.fail(err, func(st *EntityState[T]) { st.Submitting = false })
		return item, err
	}

	s.update(true, func(st *EntityState[T]) {
		replace(st, id, item)
		st.Submitting = false
	})
	return item, nil
}

// Remove DELETEs the item and drops it from Items and CurrentItem.
func (s *Store[T]) Remove(ctx context.Context, id string) error {
	s.beginSubmit()

	if err := s.do(ctx, http.MethodDelete, s.itemURL(id), nil, nil); err != nil {
		s.fail(err, func(st *EntityState[T]) { st.Submitting = false })
		return err
	}

	s.update(true, func(st *EntityState[T]) {
		st.Items = without(st.Items, id)
		if st.CurrentItem != nil && (*st.CurrentItem).GetID() == id {
			st.CurrentItem = nil
		}
		st.Submitting = false
	})
	s.logger.Debug().Str("id", id).Msg("removed")
	return nil
}

// SetItems replaces Items. Later duplicates of an id are dropped.
func (s *Store[T]) SetItems(items []T) {
	items = dedupe(append([]T(nil), items...))
	s.update(true, func(st *EntityState[T]) { st.Items = items })
}

// ReplaceItem swaps in item for the element with the same id, keeping its
// position, and refreshes CurrentItem when it matches. It reports whether
// the id was present; an absent id is not inserted.
func (s *Store[T]) ReplaceItem(item T) bool {
	var found bool
	s.update(true, func(st *EntityState[T]) { found = replace(st, item.GetID(), item) })
	return found
}

func (s *Store[T]) SetCurrentItem(item *T) {
	var cur *T
	if item != nil {
		c := *item
		cur = &c
	}
	s.update(true, func(st *EntityState[T]) { st.CurrentItem = cur })
}

func (s *Store[T]) SetError(msg string) {
	s.update(false, func(st *EntityState[T]) { st.Error = msg })
}

func (s *Store[T]) ClearError() {
	s.SetError("")
}

// Reset empties the store, including its snapshot.
func (s *Store[T]) Reset() {
	s.update(true, func(st *EntityState[T]) { *st = EntityState[T]{} })
}

// Hydrate restores Items and CurrentItem from the last snapshot. A missing
// snapshot is not an error.
func (s *Store[T]) Hydrate(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	data, err := s.persist.Load(ctx, s.snapshotKey())
	if errors.Is(err, persist.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap snapshot[T]
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.mu.Lock()
	s.state.Items = dedupe(snap.Items)
	s.state.CurrentItem = snap.CurrentItem
	s.mu.Unlock()
	s.logger.Debug().Int("count", len(snap.Items)).Msg("hydrated from snapshot")
	return nil
}

func (s *Store[T]) snapshotKey() string {
	return "store:" + s.name
}

func (s *Store[T]) itemURL(id string) string {
	return s.endpoint + "/" + url.PathEscape(id)
}

func (s *Store[T]) do(ctx context.Context, method, endpoint string, body, out any, opts ...api.RequestOption) error {
	res, err := s.client.Do(ctx, method, endpoint, body, opts...)
	if err != nil {
		return err
	}
	return res.Into(out)
}

func (s *Store[T]) beginSubmit() {
	s.update(false, func(st *EntityState[T]) {
		st.Submitting = true
		st.Error = ""
	})
}

func (s *Store[T]) fail(err error, done func(*EntityState[T])) {
	s.update(false, func(st *EntityState[T]) {
		done(st)
		st.Error = api.Message(err)
	})
	s.logger.Debug().Err(err).Msg("request failed")
}

// update applies fn under the lock. save persists Items and CurrentItem
// afterwards when persistence is on. Snapshots reach the Persister in the
// order their changes were applied; one overtaken by a newer write is dropped.
func (s *Store[T]) update(save bool, fn func(*EntityState[T])) {
	s.mu.Lock()
	fn(&s.state)
	var (
		snap []byte
		rev  uint64
	)
	if save && s.persist != nil {
		s.rev++
		rev = s.rev
		var err error
		snap, err = json.Marshal(snapshot[T]{Items: s.state.Items, CurrentItem: s.state.CurrentItem})
		if err != nil {
			s.logger.Warn().Err(err).Msg("encode snapshot")
			snap = nil
		}
	}
	s.mu.Unlock()

	if snap == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if rev < s.saved {
		return
	}
	if err := s.persist.Save(context.Background(), s.snapshotKey(), snap); err != nil {
		s.logger.Warn().Err(err).Msg("save snapshot")
		return
	}
	s.saved = rev
}

func replace[T Entity](st *EntityState[T], id string, item T) bool {
	found := false
	for i := range st.Items {
		if st.Items[i].GetID() == id {
			st.Items[i] = item
			found = true
			break
		}
	}
	if st.CurrentItem != nil && (*st.CurrentItem).GetID() == id {
		c := item
		st.CurrentItem = &c
	}
	return found
}

func without[T Entity](items []T, id string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if it.GetID() != id {
			out = append(out, it)
		}
	}
	return out
}

func dedupe[T Entity](items []T) []T {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		id := it.GetID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, it)
	}
	return out
}
