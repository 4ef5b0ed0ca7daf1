package fx

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/entrhq/devbridge/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor captures effects and the state visible when each ran.
type recordingExecutor struct {
	store   *Store
	effects []Effect
	states  []State
	handle  func(d Dispatcher, e Effect) error
}

func (r *recordingExecutor) Execute(d Dispatcher, e Effect) error {
	r.effects = append(r.effects, e)
	if r.store != nil {
		r.states = append(r.states, r.store.State())
	}
	if r.handle != nil {
		return r.handle(d, e)
	}
	return nil
}

func (r *recordingExecutor) tags() []Tag {
	out := make([]Tag, len(r.effects))
	for i, e := range r.effects {
		out[i] = e.Tag
	}
	return out
}

// todoHandler keeps a "todos" list watched by a plain watcher whose change
// handler appends to "log" and emits an effect.
var todoHandler = Router{
	"todo/add": func(db State, _ Ambient, a Action) Result {
		todos, _ := Lookup[[]string](db, "todos")
		next := append(append([]string{}, todos...), a.Arg(0).(string))
		return Handled(db.With("todos", next), E("fx/added", a.Arg(0)))
	},
	"todo/changed": func(db State, _ Ambient, a Action) Result {
		change := a.Arg(0).(ListChange)
		count, _ := Lookup[int](db, "changes")
		return Handled(db.With("changes", count+1), E("fx/render", change))
	},
	"todo/then": func(_ State, _ Ambient, a Action) Result {
		return Emit(E("fx/then")).Then(A("todo/add", a.Arg(0).(string)))
	},
	"todo/loop": func(db State, _ Ambient, _ Action) Result {
		return Result{}.Then(A("todo/loop"))
	},
}

func newTodoState() State {
	return WithWatchers(NewState(), ListWatcher{Field: "todos", OnChange: "todo/changed"})
}

func TestStore_DispatchCommitsAndRunsEffects(t *testing.T) {
	exec := &recordingExecutor{}
	store := NewStore(newTodoState(), todoHandler, exec)
	exec.store = store

	require.NoError(t, store.Dispatch(A("todo/add", "write docs")))

	todos, _ := Lookup[[]string](store.State(), "todos")
	assert.Equal(t, []string{"write docs"}, todos)
	assert.Equal(t, 1, store.State().Get("changes"))

	// Cascaded watcher effects come after the initiating batch's effects
	assert.Equal(t, []Tag{"fx/added", "fx/render"}, exec.tags())
	assert.Equal(t, ListChange{Added: []any{"write docs"}, Removed: []any{}}, exec.effects[1].Arg(0))
}

func TestStore_StateCommittedBeforeEffects(t *testing.T) {
	exec := &recordingExecutor{}
	store := NewStore(newTodoState(), todoHandler, exec)
	exec.store = store

	require.NoError(t, store.Dispatch(A("todo/add", "a")))

	require.Len(t, exec.states, 2)
	for _, s := range exec.states {
		assert.Equal(t, 1, s.Get("changes"))
	}
}

func TestStore_FollowUpsFoldIntoSameCycle(t *testing.T) {
	exec := &recordingExecutor{}
	store := NewStore(newTodoState(), todoHandler, exec)

	require.NoError(t, store.Dispatch(A("todo/then", "from dxs")))

	todos, _ := Lookup[[]string](store.State(), "todos")
	assert.Equal(t, []string{"from dxs"}, todos)
	assert.Equal(t, []Tag{"fx/then", "fx/added", "fx/render"}, exec.tags())
	// One watcher pass compares the state before the batch to after the follow-ups
	assert.Equal(t, 1, store.State().Get("changes"))
}

func TestStore_UnhandledEffectsAreDropped(t *testing.T) {
	var buf bytes.Buffer
	exec := &recordingExecutor{handle: func(_ Dispatcher, e Effect) error {
		if e.Tag == "fx/added" {
			return ErrUnhandledEffect
		}
		return nil
	}}
	store := NewStore(newTodoState(), todoHandler, exec, WithLogger(logging.NewWriterLogger("store", &buf)))

	require.NoError(t, store.Dispatch(A("todo/add", "x")))

	// The dropped effect does not stop the rest of the cycle
	assert.Equal(t, []Tag{"fx/added", "fx/render"}, exec.tags())
	assert.Contains(t, buf.String(), "dropped unhandled effect")
}

func TestStore_ExecutorErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	exec := ExecutorFunc(func(Dispatcher, Effect) error { return errors.New("socket closed") })
	store := NewStore(newTodoState(), todoHandler, exec, WithLogger(logging.NewWriterLogger("store", &buf)))

	require.NoError(t, store.Dispatch(A("todo/add", "x")))
	assert.Contains(t, buf.String(), "socket closed")
}

func TestStore_ExecutorCanReenter(t *testing.T) {
	exec := &recordingExecutor{}
	exec.handle = func(d Dispatcher, e Effect) error {
		if e.Tag == "fx/added" && e.Arg(0) == "first" {
			return d.Dispatch(A("todo/add", "second"))
		}
		return nil
	}
	store := NewStore(newTodoState(), todoHandler, exec)

	require.NoError(t, store.Dispatch(A("todo/add", "first")))

	todos, _ := Lookup[[]string](store.State(), "todos")
	assert.Equal(t, []string{"first", "second"}, todos)
}

func TestStore_CascadeDepthGuard(t *testing.T) {
	// A shadow watcher whose handler never applies the change fires forever
	handler := Router{
		"sync": func(db State, _ Ambient, _ Action) Result {
			n, _ := Lookup[int](db, "n")
			return Handled(db.With("n", n+1))
		},
	}
	initial := WithWatchers(NewState("items", []string{"a"}),
		ListWatcher{Field: "items", OnChange: "sync", ShadowPath: "shadow"})
	exec := &recordingExecutor{}
	store := NewStore(initial, handler, exec, WithMaxDepth(4))

	err := store.Dispatch(Assign("touched", true))

	assert.ErrorIs(t, err, ErrCascadeDepth)
	assert.False(t, store.State().Has("touched"), "nothing is committed")
	assert.Empty(t, exec.effects)
}

func TestStore_FollowUpDepthGuard(t *testing.T) {
	store := NewStore(NewState(), todoHandler, nil, WithMaxDepth(3))

	assert.ErrorIs(t, store.Dispatch(A("todo/loop")), ErrCascadeDepth)
}

func TestStore_AmbientIsPassed(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var seen Ambient
	handler := HandlerFunc(func(db State, amb Ambient, _ Action) Result {
		seen = amb
		return Result{}
	})
	store := NewStore(NewState(), handler, nil, WithAmbient(func() Ambient {
		return NewAmbient(now, map[string]string{"server": "ws://localhost:9630"})
	}))

	require.NoError(t, store.Dispatch(A("any")))

	assert.Equal(t, now, seen.Now)
	assert.Equal(t, "ws://localhost:9630", seen.Get("server"))
}

type countingObserver struct {
	actions []Tag
	effects map[Tag]error
}

func (c *countingObserver) ObserveAction(a Action) { c.actions = append(c.actions, a.Tag) }
func (c *countingObserver) ObserveEffect(e Effect, err error) {
	if c.effects == nil {
		c.effects = make(map[Tag]error)
	}
	c.effects[e.Tag] = err
}

func TestStore_Observer(t *testing.T) {
	obs := &countingObserver{}
	store := NewStore(newTodoState(), todoHandler, nil, WithObserver(obs))

	require.NoError(t, store.Dispatch(A("todo/add", "x")))

	assert.Equal(t, []Tag{"todo/add", "todo/changed"}, obs.actions)
	assert.ErrorIs(t, obs.effects["fx/added"], ErrUnhandledEffect, "nil executor drops every effect")
}
