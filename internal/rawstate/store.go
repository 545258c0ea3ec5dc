// Package rawstate holds the latest upstream value for every key and
// notifies listeners when something actually changed.
package rawstate

import (
	"reflect"
	"sort"
	"sync"

	"github.com/titty-skittles/Apex-Overlay/internal/event"
)

// DefaultMaxDepth bounds how far SetDeep expands nested records.
const DefaultMaxDepth = 2

// Change is one key transition.
type Change struct {
	Key   string
	Value any
	Prev  any
}

// Notification is delivered once per write call. RootKey is empty for Set
// and Apply.
type Notification struct {
	RootKey string
	Changes []Change
}

type Listener func(Notification)

type Store struct {
	mu     sync.RWMutex
	values map[string]any

	listeners *event.Bus[Notification]

	// OnListenerPanic is called when a listener panics. Optional.
	OnListenerPanic func(recovered any)
}

func New() *Store {
	s := &Store{
		values:    make(map[string]any),
		listeners: event.NewBus[Notification](),
	}
	s.listeners.OnPanic = func(r any) {
		if s.OnListenerPanic != nil {
			s.OnListenerPanic(r)
		}
	}
	return s
}

// Set overwrites key with value. Identical values are ignored.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	var changes []Change
	s.write(key, value, &changes)
	s.mu.Unlock()

	if len(changes) > 0 {
		s.emit(Notification{Changes: changes})
	}
}

// SetDeep writes key and, for record values, every field as "key.field",
// recursing until maxDepth. All resulting changes go out in one
// notification.
func (s *Store) SetDeep(key string, value any, maxDepth int) {
	s.mu.Lock()
	var changes []Change
	s.write(key, value, &changes)
	s.flatten(key, value, 0, maxDepth, &changes)
	s.mu.Unlock()

	if len(changes) > 0 {
		s.emit(Notification{RootKey: key, Changes: changes})
	}
}

// Apply runs SetDeep for every entry of values (sorted by key) and emits a
// single notification covering all of them.
func (s *Store) Apply(values map[string]any, maxDepth int) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.mu.Lock()
	var changes []Change
	for _, k := range keys {
		v := values[k]
		s.write(k, v, &changes)
		s.flatten(k, v, 0, maxDepth, &changes)
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.emit(Notification{Changes: changes})
	}
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns a shallow copy of every key.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Subscribe registers fn for change notifications. Listeners run on the
// writer's goroutine, after the store lock is released.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	return s.listeners.Subscribe(event.Handler[Notification](fn))
}

// write must be called with mu held.
func (s *Store) write(key string, value any, changes *[]Change) {
	prev, ok := s.values[key]
	if ok && same(prev, value) {
		return
	}
	s.values[key] = value
	*changes = append(*changes, Change{Key: key, Value: value, Prev: prev})
}

func (s *Store) flatten(base string, value any, depth, maxDepth int, changes *[]Change) {
	rec, ok := value.(map[string]any)
	if !ok || depth >= maxDepth {
		return
	}
	fields := make([]string, 0, len(rec))
	for f := range rec {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		child := base + "." + f
		s.write(child, rec[f], changes)
		s.flatten(child, rec[f], depth+1, maxDepth, changes)
	}
}

func (s *Store) emit(n Notification) {
	s.listeners.Publish(n)
}

// same reports whether two decoded JSON values are identical. Records and
// lists compare by content.
func same(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		return reflect.DeepEqual(a, b)
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
