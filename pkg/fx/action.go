package fx

import (
	"fmt"
	"strings"
)

// Tag names the intent of an action or effect. Hosts namespace their tags
// ("bg/init", "popup/sync", "fx/defer") so vocabularies never collide.
type Tag string

// Reserved tags. AwaitTag carries a NUL byte so it can never be produced by
// a host vocabulary.
const (
	TagAssign Tag = "fx/assign"
	TagDissoc Tag = "fx/dissoc"
	TagChain  Tag = "fx/chain"
	TagDefer  Tag = "fx/defer"

	AwaitTag Tag = "\x00fx/await"
)

// Action is a tagged request to change state. Actions are plain data.
type Action struct {
	Tag  Tag
	Args []any
}

// A builds an Action.
func A(tag Tag, args ...any) Action {
	return Action{Tag: tag, Args: args}
}

// IsZero reports whether the action is absent. Batches may contain zero
// actions left behind by conditional construction; they are skipped.
func (a Action) IsZero() bool {
	return a.Tag == "" && len(a.Args) == 0
}

// Arg returns the i-th argument or nil when out of range.
func (a Action) Arg(i int) any {
	if i < 0 || i >= len(a.Args) {
		return nil
	}
	return a.Args[i]
}

func (a Action) String() string {
	return formatTuple(a.Tag, a.Args)
}

// Effect is a tagged request for a side effect performed outside the core.
type Effect struct {
	Tag  Tag
	Args []any
}

// E builds a plain (fire-and-forget) Effect.
func E(tag Tag, args ...any) Effect {
	return Effect{Tag: tag, Args: args}
}

// Arg returns the i-th argument or nil when out of range.
func (e Effect) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

func (e Effect) String() string {
	if IsAwait(e) {
		return "await " + Unwrap(e).String()
	}
	return formatTuple(e.Tag, e.Args)
}

// Defer builds the deferred-dispatch effect: dispatch actions after delay.
// The core treats it as any other effect; hosts implement it with timers.
func Defer(delayMillis int, actions ...Action) Effect {
	args := make([]any, 0, len(actions)+1)
	args = append(args, delayMillis)
	for _, a := range actions {
		args = append(args, a)
	}
	return Effect{Tag: TagDefer, Args: args}
}

// DeferredActions decodes an effect built by Defer.
func DeferredActions(e Effect) (delayMillis int, actions []Action, ok bool) {
	if e.Tag != TagDefer || len(e.Args) == 0 {
		return 0, nil, false
	}
	delayMillis, ok = e.Args[0].(int)
	if !ok {
		return 0, nil, false
	}
	for _, arg := range e.Args[1:] {
		if a, isAction := arg.(Action); isAction {
			actions = append(actions, a)
		}
	}
	return delayMillis, actions, true
}

func formatTuple(tag Tag, args []any) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(tag))
	for _, arg := range args {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%v", arg))
	}
	b.WriteString("]")
	return b.String()
}
