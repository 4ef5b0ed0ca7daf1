package fx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tagInc     Tag = "test/inc"
	tagNoop    Tag = "test/noop"
	tagEmit    Tag = "test/emit"
	tagSetDxs  Tag = "test/set-dxs"
	tagDecline Tag = "test/decline"
)

// counterHandler increments "n", emits effects and sets follow-ups on request.
var counterHandler = Router{
	tagInc: func(db State, _ Ambient, a Action) Result {
		n, _ := Lookup[int](db, "n")
		step := 1
		if v, ok := a.Arg(0).(int); ok {
			step = v
		}
		return Handled(db.With("n", n+step))
	},
	tagNoop: func(State, Ambient, Action) Result {
		return Result{}
	},
	tagEmit: func(_ State, _ Ambient, a Action) Result {
		fxs := make([]Effect, 0, len(a.Args))
		for _, arg := range a.Args {
			fxs = append(fxs, E(Tag(arg.(string))))
		}
		return Emit(fxs...)
	},
	tagSetDxs: func(_ State, _ Ambient, a Action) Result {
		dxs := make([]Action, 0, len(a.Args))
		for _, arg := range a.Args {
			dxs = append(dxs, arg.(Action))
		}
		return Result{}.Then(dxs...)
	},
	tagDecline: func(State, Ambient, Action) Result {
		return Unhandled()
	},
}

func TestHandleActions_ThreadsState(t *testing.T) {
	amb := NewAmbient(time.Unix(0, 0), nil)
	actions := []Action{A(tagInc), A(tagInc, 5), A(tagInc, 2)}

	batched := HandleActions(NewState("n", 0), amb, counterHandler, actions)
	require.NotNil(t, batched.DB)

	// Applying one at a time, each consuming the prior state, must agree
	sequential := NewState("n", 0)
	for _, a := range actions {
		res := HandleActions(sequential, amb, counterHandler, []Action{a})
		require.NotNil(t, res.DB)
		sequential = *res.DB
	}

	got, _ := Lookup[int](*batched.DB, "n")
	want, _ := Lookup[int](sequential, "n")
	assert.Equal(t, 8, got)
	assert.Equal(t, want, got)
}

func TestHandleActions_EffectOrder(t *testing.T) {
	res := HandleActions(NewState(), Ambient{}, counterHandler, []Action{
		A(tagEmit, "a1.first", "a1.second"),
		A(tagEmit, "a2.first"),
	})

	require.Len(t, res.Fxs, 3)
	assert.Equal(t, Tag("a1.first"), res.Fxs[0].Tag)
	assert.Equal(t, Tag("a1.second"), res.Fxs[1].Tag)
	assert.Equal(t, Tag("a2.first"), res.Fxs[2].Tag)
}

func TestHandleActions_DxsLastWriteWins(t *testing.T) {
	x := A(tagInc, 10)
	y := A(tagInc, 20)

	res := HandleActions(NewState(), Ambient{}, counterHandler, []Action{
		A(tagSetDxs, x),
		A(tagSetDxs, y),
	})

	assert.Equal(t, []Action{y}, res.Dxs)
}

func TestHandleActions_OmitsUnsetFields(t *testing.T) {
	res := HandleActions(NewState("n", 1), Ambient{}, counterHandler, []Action{A(tagNoop)})

	assert.Nil(t, res.DB, "db was never set")
	assert.Nil(t, res.Fxs)
	assert.Nil(t, res.Dxs)
}

func TestHandleActions_SkipsAbsentActions(t *testing.T) {
	res := HandleActions(NewState("n", 0), Ambient{}, counterHandler, []Action{{}, A(tagInc), {}})

	require.NotNil(t, res.DB)
	n, _ := Lookup[int](*res.DB, "n")
	assert.Equal(t, 1, n)
}

func TestHandleActions_FallsBackToGenericReducer(t *testing.T) {
	res := HandleActions(NewState(), Ambient{}, counterHandler, []Action{
		Assign("a", 1, "b", "two"),
		A(tagInc),
	})

	require.NotNil(t, res.DB)
	assert.Equal(t, 1, res.DB.Get("a"))
	assert.Equal(t, "two", res.DB.Get("b"))
	assert.Equal(t, 1, res.DB.Get("n"))
}

func TestHandleActions_DropsDoublyUnhandled(t *testing.T) {
	res := HandleActions(NewState("n", 3), Ambient{}, counterHandler, []Action{
		A(tagDecline),
		A("test/unknown", 1, 2),
	})

	assert.Nil(t, res.DB)
	assert.Nil(t, res.Fxs)
}

func TestHandleActions_NilHandlerUsesGeneric(t *testing.T) {
	res := HandleActions(NewState(), Ambient{}, nil, []Action{Assign("k", "v")})

	require.NotNil(t, res.DB)
	assert.Equal(t, "v", res.DB.Get("k"))
}

func TestHandleActions_DoesNotMutateInput(t *testing.T) {
	initial := NewState("n", 0)

	HandleActions(initial, Ambient{}, counterHandler, []Action{A(tagInc), Assign("x", 1)})

	assert.Equal(t, 0, initial.Get("n"))
	assert.False(t, initial.Has("x"))
}
