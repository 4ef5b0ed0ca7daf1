package fx

import (
	"sort"
	"time"
)

// State is an immutable keyed value. Every update returns a new State and
// leaves the receiver untouched, which is what lets the watcher engine
// compare a before and after snapshot without locking.
type State struct {
	m map[string]any
}

// NewState builds a State from alternating key/value pairs.
func NewState(kvs ...any) State {
	return State{}.Assign(kvs...)
}

// Get returns the value stored at key, or nil.
func (s State) Get(key string) any {
	return s.m[key]
}

// Has reports whether key is present.
func (s State) Has(key string) bool {
	_, ok := s.m[key]
	return ok
}

// Len returns the number of keys.
func (s State) Len() int {
	return len(s.m)
}

// Keys returns the keys in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of s with key set to value.
func (s State) With(key string, value any) State {
	return s.Assign(key, value)
}

// Assign returns a copy of s with the alternating key/value pairs merged in.
// Pairs whose key is not a string are skipped, as is a trailing odd key.
func (s State) Assign(kvs ...any) State {
	next := s.clone(len(kvs) / 2)
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			continue
		}
		next[key] = kvs[i+1]
	}
	return State{m: next}
}

// Without returns a copy of s with the given keys removed.
func (s State) Without(keys ...string) State {
	next := s.clone(0)
	for _, k := range keys {
		delete(next, k)
	}
	return State{m: next}
}

func (s State) clone(extra int) map[string]any {
	next := make(map[string]any, len(s.m)+extra)
	for k, v := range s.m {
		next[k] = v
	}
	return next
}

// Lookup returns the value at key asserted to T.
func Lookup[T any](s State, key string) (T, bool) {
	v, ok := s.m[key].(T)
	return v, ok
}

// Ambient is read-only data supplied once per dispatch: the current time and
// static configuration strings. Handlers never mutate it.
type Ambient struct {
	Now    time.Time
	values map[string]string
}

// NewAmbient builds an Ambient snapshot. The values map is copied.
func NewAmbient(now time.Time, values map[string]string) Ambient {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Ambient{Now: now, values: copied}
}

// Get returns the configuration value stored under key.
func (a Ambient) Get(key string) string {
	return a.values[key]
}
