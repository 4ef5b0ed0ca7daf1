package fx

// GenericHandle provides the built-in primitives every host gets for free
// and terminates the fallback chain.
//
//	[fx/assign k1 v1 k2 v2 ...]  merges the pairs into state
//	[fx/dissoc k1 k2 ...]        removes the keys from state
//
// Any other tag returns Unhandled.
func GenericHandle(db State, _ Ambient, action Action) Result {
	switch action.Tag {
	case TagAssign:
		next := db.Assign(action.Args...)
		return Result{DB: &next}

	case TagDissoc:
		keys := make([]string, 0, len(action.Args))
		for _, arg := range action.Args {
			if k, ok := arg.(string); ok {
				keys = append(keys, k)
			}
		}
		next := db.Without(keys...)
		return Result{DB: &next}
	}
	return Unhandled()
}

// Assign builds an fx/assign action.
func Assign(kvs ...any) Action {
	return A(TagAssign, kvs...)
}
