package fx

// HandleActions folds actions left to right through h, threading state.
//
// Each action sees the state produced by the one before it. A handler that
// returns Unhandled is retried against GenericHandle; if that also declines,
// the action is dropped. Effects accumulate across the whole batch in order.
// Follow-up actions are last-write-wins: a later action that sets Dxs
// replaces whatever an earlier one set.
//
// Fields of the returned Result stay nil when no action set them, so callers
// can tell "unchanged" from "changed".
func HandleActions(db State, amb Ambient, h Handler, actions []Action) Result {
	var out Result
	current := db

	for _, action := range actions {
		if action.IsZero() {
			continue
		}

		res := Unhandled()
		if h != nil {
			res = h.Handle(current, amb, action)
		}
		if res.IsUnhandled() {
			res = GenericHandle(current, amb, action)
			if res.IsUnhandled() {
				continue
			}
		}

		if res.DB != nil {
			next := *res.DB
			current = next
			out.DB = &next
		}
		if len(res.Fxs) > 0 {
			out.Fxs = append(out.Fxs, res.Fxs...)
		}
		if res.Dxs != nil {
			out.Dxs = res.Dxs
		}
	}

	return out
}
