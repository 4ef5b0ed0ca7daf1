package fx

import (
	"reflect"
)

// WatchersKey is the reserved state key holding the ordered []ListWatcher.
const WatchersKey = "\x00fx/watchers"

// ListWatcher declares a list field whose membership (and, with a shadow
// list, content and enter/leave lifecycle) is diffed across every dispatch
// cycle. Watchers live in state so each host declares its own.
type ListWatcher struct {
	// Field is the state key of the watched list. Any slice type works;
	// absent or nil is an empty list.
	Field string

	// ID maps an item to its stable identity. IDs must be comparable.
	// nil means the item is its own identity.
	ID func(item any) any

	// OnChange is the tag of the synthesized action.
	OnChange Tag

	// ShadowPath, when set, names a []ShadowEntry field mirroring Field.
	ShadowPath string
}

func (w ListWatcher) id(item any) any {
	if w.ID == nil {
		return item
	}
	return w.ID(item)
}

// ListChange is the payload of a plain watcher action: distinct identities,
// in list order.
type ListChange struct {
	Added   []any
	Removed []any
}

// ShadowChange is the payload of a shadow watcher action.
type ShadowChange struct {
	// AddedItems are full items present in the source list but not among the
	// present shadow entries.
	AddedItems []any
	// RemovedIDs are ids of present shadow entries missing from the source.
	RemovedIDs []any
	// Updated are source items whose content differs from the mirrored item.
	Updated []any
}

// IsEmpty reports whether the change carries nothing.
func (c ShadowChange) IsEmpty() bool {
	return len(c.AddedItems) == 0 && len(c.RemovedIDs) == 0 && len(c.Updated) == 0
}

// ShadowEntry mirrors one item of a watched list with its lifecycle flags.
// A Leaving entry is logically gone: it no longer counts for removal or
// content comparisons, even while it is still physically in the list.
type ShadowEntry struct {
	Item     any
	Entering bool
	Leaving  bool
}

// WithWatchers returns s with ws appended to its declared watchers.
func WithWatchers(s State, ws ...ListWatcher) State {
	existing := Watchers(s)
	next := make([]ListWatcher, 0, len(existing)+len(ws))
	next = append(next, existing...)
	next = append(next, ws...)
	return s.With(WatchersKey, next)
}

// Watchers returns the watchers declared in s.
func Watchers(s State) []ListWatcher {
	ws, _ := Lookup[[]ListWatcher](s, WatchersKey)
	return ws
}

// ListWatcherActions compares the watched lists of oldState and newState and
// returns at most one action per watcher, in declaration order.
func ListWatcherActions(oldState, newState State) []Action {
	var out []Action
	for _, w := range Watchers(newState) {
		if w.ShadowPath == "" {
			if change, ok := plainChange(w, oldState, newState); ok {
				out = append(out, A(w.OnChange, change))
			}
			continue
		}
		if change, ok := shadowChange(w, newState); ok {
			out = append(out, A(w.OnChange, change))
		}
	}
	return out
}

func plainChange(w ListWatcher, oldState, newState State) (ListChange, bool) {
	oldIDs := distinctIDs(w, listItems(oldState.Get(w.Field)))
	newIDs := distinctIDs(w, listItems(newState.Get(w.Field)))

	var change ListChange
	for _, id := range newIDs.order {
		if _, ok := oldIDs.set[id]; !ok {
			change.Added = append(change.Added, id)
		}
	}
	for _, id := range oldIDs.order {
		if _, ok := newIDs.set[id]; !ok {
			change.Removed = append(change.Removed, id)
		}
	}
	if len(change.Added) == 0 && len(change.Removed) == 0 {
		return ListChange{}, false
	}
	if change.Added == nil {
		change.Added = []any{}
	}
	if change.Removed == nil {
		change.Removed = []any{}
	}
	return change, true
}

func shadowChange(w ListWatcher, newState State) (ShadowChange, bool) {
	source := listItems(newState.Get(w.Field))
	shadow := ShadowEntries(newState.Get(w.ShadowPath))

	present := make(map[any]any, len(shadow))
	var presentOrder []any
	for _, entry := range shadow {
		if entry.Leaving {
			continue
		}
		id := w.id(entry.Item)
		if _, dup := present[id]; dup {
			continue
		}
		present[id] = entry.Item
		presentOrder = append(presentOrder, id)
	}

	var change ShadowChange
	seen := make(map[any]struct{}, len(source))
	for _, item := range source {
		id := w.id(item)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		mirrored, ok := present[id]
		if !ok {
			change.AddedItems = append(change.AddedItems, item)
			continue
		}
		if !reflect.DeepEqual(item, mirrored) {
			change.Updated = append(change.Updated, item)
		}
	}
	for _, id := range presentOrder {
		if _, ok := seen[id]; !ok {
			change.RemovedIDs = append(change.RemovedIDs, id)
		}
	}

	if change.IsEmpty() {
		return ShadowChange{}, false
	}
	if change.AddedItems == nil {
		change.AddedItems = []any{}
	}
	if change.RemovedIDs == nil {
		change.RemovedIDs = []any{}
	}
	return change, true
}

type idSet struct {
	order []any
	set   map[any]struct{}
}

func distinctIDs(w ListWatcher, items []any) idSet {
	ids := idSet{set: make(map[any]struct{}, len(items))}
	for _, item := range items {
		id := w.id(item)
		if _, dup := ids.set[id]; dup {
			continue
		}
		ids.set[id] = struct{}{}
		ids.order = append(ids.order, id)
	}
	return ids
}

// listItems flattens any slice value into []any. Non-slices are empty.
func listItems(v any) []any {
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		return list
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// ShadowEntries reads a shadow list from a state value. Absent is empty.
func ShadowEntries(v any) []ShadowEntry {
	switch list := v.(type) {
	case []ShadowEntry:
		return list
	case []any:
		out := make([]ShadowEntry, 0, len(list))
		for _, item := range list {
			if entry, ok := item.(ShadowEntry); ok {
				out = append(out, entry)
			}
		}
		return out
	}
	return nil
}

// ApplyShadowChange returns a new shadow list with change applied: removed
// ids start leaving, updated items replace their mirrored content without
// touching lifecycle flags, and added items are appended as entering.
func ApplyShadowChange(shadow []ShadowEntry, change ShadowChange, id func(any) any) []ShadowEntry {
	w := ListWatcher{ID: id}

	removed := make(map[any]struct{}, len(change.RemovedIDs))
	for _, rid := range change.RemovedIDs {
		removed[rid] = struct{}{}
	}
	updated := make(map[any]any, len(change.Updated))
	for _, item := range change.Updated {
		updated[w.id(item)] = item
	}

	next := make([]ShadowEntry, 0, len(shadow)+len(change.AddedItems))
	for _, entry := range shadow {
		if !entry.Leaving {
			eid := w.id(entry.Item)
			if _, ok := removed[eid]; ok {
				entry.Leaving = true
				entry.Entering = false
			} else if item, ok := updated[eid]; ok {
				entry.Item = item
			}
		}
		next = append(next, entry)
	}
	for _, item := range change.AddedItems {
		next = append(next, ShadowEntry{Item: item, Entering: true})
	}
	return next
}

// SettleEntering clears the Entering flag on entries with the given ids, or
// on every entry when no ids are given.
func SettleEntering(shadow []ShadowEntry, id func(any) any, ids ...any) []ShadowEntry {
	w := ListWatcher{ID: id}
	match := idMatcher(ids)

	next := make([]ShadowEntry, len(shadow))
	for i, entry := range shadow {
		if entry.Entering && match(w.id(entry.Item)) {
			entry.Entering = false
		}
		next[i] = entry
	}
	return next
}

// DropLeaving removes leaving entries with the given ids, or every leaving
// entry when no ids are given.
func DropLeaving(shadow []ShadowEntry, id func(any) any, ids ...any) []ShadowEntry {
	w := ListWatcher{ID: id}
	match := idMatcher(ids)

	next := make([]ShadowEntry, 0, len(shadow))
	for _, entry := range shadow {
		if entry.Leaving && match(w.id(entry.Item)) {
			continue
		}
		next = append(next, entry)
	}
	return next
}

func idMatcher(ids []any) func(any) bool {
	if len(ids) == 0 {
		return func(any) bool { return true }
	}
	set := make(map[any]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id any) bool {
		_, ok := set[id]
		return ok
	}
}
