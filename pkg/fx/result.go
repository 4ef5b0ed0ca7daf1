package fx

// Result is what an action handler returns.
//
// DB is the new state (nil leaves state unchanged). Fxs are effects to run
// in emission order. Dxs are follow-up actions folded into the same dispatch
// cycle; nil means "not set", which differs from an empty non-nil slice.
type Result struct {
	DB  *State
	Fxs []Effect
	Dxs []Action

	unhandled bool
}

// Unhandled is the "not mine" result. The batch chainer falls back to
// GenericHandle when a host handler returns it.
func Unhandled() Result {
	return Result{unhandled: true}
}

// IsUnhandled reports whether the result is the Unhandled sentinel.
func (r Result) IsUnhandled() bool {
	return r.unhandled
}

// Handled is a convenience for building a Result with a new state.
func Handled(db State, fxs ...Effect) Result {
	return Result{DB: &db, Fxs: fxs}
}

// Emit builds a Result that leaves state unchanged and only emits effects.
func Emit(fxs ...Effect) Result {
	return Result{Fxs: fxs}
}

// Then returns r with dxs set as its follow-up actions.
func (r Result) Then(dxs ...Action) Result {
	if dxs == nil {
		dxs = []Action{}
	}
	r.Dxs = dxs
	return r
}

// Handler reduces one action against state. Implementations must be pure:
// no I/O and no mutation of db.
type Handler interface {
	Handle(db State, amb Ambient, action Action) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(db State, amb Ambient, action Action) Result

// Handle calls f.
func (f HandlerFunc) Handle(db State, amb Ambient, action Action) Result {
	return f(db, amb, action)
}

// Router is a dispatch table from tag to handler. Tags with no entry are
// reported as Unhandled.
type Router map[Tag]HandlerFunc

// Handle looks up the action's tag and invokes its handler.
func (r Router) Handle(db State, amb Ambient, action Action) Result {
	h, ok := r[action.Tag]
	if !ok {
		return Unhandled()
	}
	return h(db, amb, action)
}
