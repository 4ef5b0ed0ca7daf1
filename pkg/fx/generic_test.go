package fx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenericHandle(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		action    Action
		unhandled bool
		want      map[string]any
		absent    []string
	}{
		{
			name:   "assign merges pairs",
			state:  NewState("keep", true),
			action: Assign("a", 1, "b", 2),
			want:   map[string]any{"keep": true, "a": 1, "b": 2},
		},
		{
			name:   "assign overwrites existing keys",
			state:  NewState("a", 1),
			action: Assign("a", "new"),
			want:   map[string]any{"a": "new"},
		},
		{
			name:   "assign ignores trailing odd key",
			state:  NewState(),
			action: Assign("a", 1, "dangling"),
			want:   map[string]any{"a": 1},
			absent: []string{"dangling"},
		},
		{
			name:   "assign skips non-string keys",
			state:  NewState(),
			action: Assign(42, "x", "ok", true),
			want:   map[string]any{"ok": true},
		},
		{
			name:   "dissoc removes keys",
			state:  NewState("a", 1, "b", 2),
			action: A(TagDissoc, "a"),
			want:   map[string]any{"b": 2},
			absent: []string{"a"},
		},
		{
			name:      "other tags are unhandled",
			state:     NewState(),
			action:    A("popup/select", "x"),
			unhandled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := GenericHandle(tt.state, Ambient{}, tt.action)
			if tt.unhandled {
				assert.True(t, res.IsUnhandled())
				return
			}
			require.False(t, res.IsUnhandled())
			require.NotNil(t, res.DB)
			for k, v := range tt.want {
				assert.Equal(t, v, res.DB.Get(k), "key %s", k)
			}
			for _, k := range tt.absent {
				assert.False(t, res.DB.Has(k), "key %s should be absent", k)
			}
		})
	}
}

func TestStateIsImmutable(t *testing.T) {
	base := NewState("a", 1)
	next := base.With("a", 2).Without("missing")

	assert.Equal(t, 1, base.Get("a"))
	assert.Equal(t, 2, next.Get("a"))
	assert.Equal(t, []string{"a"}, next.Keys())
}

func TestRouterUnknownTag(t *testing.T) {
	r := Router{"known": func(db State, _ Ambient, _ Action) Result { return Handled(db) }}

	assert.True(t, r.Handle(NewState(), Ambient{}, A("unknown")).IsUnhandled())
	assert.False(t, r.Handle(NewState(), Ambient{}, A("known")).IsUnhandled())
}
