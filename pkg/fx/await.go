package fx

import "fmt"

type prevResult struct{}

func (prevResult) String() string { return "<prev-result>" }

// PrevResult is a placeholder usable anywhere in an effect's argument list.
// It is replaced with the result of the preceding await effect when a chain
// runs.
var PrevResult any = prevResult{}

// Await marks an effect as asynchronous: the executor performs it off the
// dispatch path and feeds its result back in, either by substituting it into
// the next chained effect or by dispatching a follow-up action.
func Await(tag Tag, args ...any) Effect {
	wrapped := make([]any, 0, len(args)+1)
	wrapped = append(wrapped, tag)
	wrapped = append(wrapped, args...)
	return Effect{Tag: AwaitTag, Args: wrapped}
}

// IsAwait reports whether e was built by Await.
func IsAwait(e Effect) bool {
	if e.Tag != AwaitTag || len(e.Args) == 0 {
		return false
	}
	_, ok := e.Args[0].(Tag)
	return ok
}

// Unwrap strips the await marker and returns the plain effect. Plain effects
// are returned unchanged.
func Unwrap(e Effect) Effect {
	if !IsAwait(e) {
		return e
	}
	return Effect{Tag: e.Args[0].(Tag), Args: e.Args[1:]}
}

// SubstitutePrevResult returns a copy of e with every PrevResult argument
// replaced by value. Effects without a placeholder are returned as is.
func SubstitutePrevResult(e Effect, value any) Effect {
	found := false
	for _, arg := range e.Args {
		if _, ok := arg.(prevResult); ok {
			found = true
			break
		}
	}
	if !found {
		return e
	}

	args := make([]any, len(e.Args))
	for i, arg := range e.Args {
		if _, ok := arg.(prevResult); ok {
			args[i] = value
			continue
		}
		args[i] = arg
	}
	return Effect{Tag: e.Tag, Args: args}
}

// Chain groups effects that must run sequentially, each await result flowing
// into the next effect's PrevResult placeholders.
func Chain(effects ...Effect) Effect {
	args := make([]any, len(effects))
	for i, e := range effects {
		args[i] = e
	}
	return Effect{Tag: TagChain, Args: args}
}

// ChainedEffects decodes an effect built by Chain.
func ChainedEffects(e Effect) ([]Effect, bool) {
	if e.Tag != TagChain {
		return nil, false
	}
	out := make([]Effect, 0, len(e.Args))
	for _, arg := range e.Args {
		inner, ok := arg.(Effect)
		if !ok {
			return nil, false
		}
		out = append(out, inner)
	}
	return out, true
}

// RunFunc performs one effect and returns its result. Only results of await
// effects are carried forward.
type RunFunc func(e Effect) (any, error)

// RunChain runs effects in order. After an await effect completes, its
// result is substituted into the next effect before that effect runs. The
// first error stops the chain.
//
// RunChain blocks; executors call it from their own goroutine, never from
// inside the dispatch loop.
func RunChain(effects []Effect, run RunFunc) error {
	var (
		prev    any
		hasPrev bool
	)
	for i, e := range effects {
		if hasPrev {
			e = SubstitutePrevResult(e, prev)
		}
		v, err := run(e)
		if err != nil {
			return fmt.Errorf("chain step %d (%s): %w", i, Unwrap(e).Tag, err)
		}
		if IsAwait(e) {
			prev, hasPrev = v, true
		}
	}
	return nil
}
