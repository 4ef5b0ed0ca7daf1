package fx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitRoundTrip(t *testing.T) {
	e := Await("fx/rpc", "eval", "(+ 1 2)")

	assert.True(t, IsAwait(e))
	assert.Equal(t, E("fx/rpc", "eval", "(+ 1 2)"), Unwrap(e))
	assert.Equal(t, "await [fx/rpc eval (+ 1 2)]", e.String())
}

func TestIsAwait(t *testing.T) {
	assert.False(t, IsAwait(E("fx/log", "x")))
	assert.False(t, IsAwait(Effect{Tag: AwaitTag}), "empty await tuple")
	assert.False(t, IsAwait(Effect{Tag: AwaitTag, Args: []any{"not a tag"}}))
}

func TestUnwrapPlainEffectIsNoop(t *testing.T) {
	e := E("fx/log", "hello")
	assert.Equal(t, e, Unwrap(e))
}

func TestSubstitutePrevResult(t *testing.T) {
	got := SubstitutePrevResult(E("fx.multi", PrevResult, "x", PrevResult), "R")

	assert.Equal(t, E("fx.multi", "R", "x", "R"), got)
}

func TestSubstitutePrevResult_LeavesOriginalIntact(t *testing.T) {
	original := E("fx/save", PrevResult)

	_ = SubstitutePrevResult(original, 42)

	assert.Equal(t, PrevResult, original.Args[0])
}

func TestSubstitutePrevResult_NoPlaceholder(t *testing.T) {
	e := E("fx/log", "a", []any{"unhashable"})
	assert.Equal(t, e, SubstitutePrevResult(e, "R"))
}

func TestSubstitutePrevResult_AwaitEffect(t *testing.T) {
	got := SubstitutePrevResult(Await("fx/rpc", PrevResult), "code")

	assert.True(t, IsAwait(got))
	assert.Equal(t, E("fx/rpc", "code"), Unwrap(got))
}

func TestRunChain(t *testing.T) {
	chain := Chain(
		Await("fx/fetch", "script-a"),
		E("fx/log", "fetched", PrevResult),
		Await("fx/compile", PrevResult),
		E("fx/inject", PrevResult, PrevResult),
	)
	effects, ok := ChainedEffects(chain)
	require.True(t, ok)

	var seen []Effect
	err := RunChain(effects, func(e Effect) (any, error) {
		seen = append(seen, e)
		switch Unwrap(e).Tag {
		case "fx/fetch":
			return "source", nil
		case "fx/compile":
			return "compiled", nil
		}
		return "ignored", nil
	})
	require.NoError(t, err)

	require.Len(t, seen, 4)
	assert.Equal(t, E("fx/log", "fetched", "source"), seen[1])
	assert.Equal(t, E("fx/compile", "source"), Unwrap(seen[2]))
	// The plain log effect's result is not carried forward
	assert.Equal(t, E("fx/inject", "compiled", "compiled"), seen[3])
}

func TestRunChain_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := RunChain([]Effect{Await("fx/a"), E("fx/b")}, func(e Effect) (any, error) {
		calls++
		return nil, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDeferRoundTrip(t *testing.T) {
	e := Defer(250, A("popup/entered", "a"), A("popup/left", "b"))

	delay, actions, ok := DeferredActions(e)
	require.True(t, ok)
	assert.Equal(t, 250, delay)
	assert.Equal(t, []Action{A("popup/entered", "a"), A("popup/left", "b")}, actions)

	_, _, ok = DeferredActions(E("fx/log"))
	assert.False(t, ok)
}

func TestInflight_SharesPendingResult(t *testing.T) {
	var (
		flight  Inflight
		runs    atomic.Int32
		release = make(chan struct{})
		started = make(chan struct{})
	)

	fn := func() (any, error) {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return "ready", nil
	}

	first := flight.Subscribe("init", fn)
	<-started

	const callers = 5
	var wg sync.WaitGroup
	outcomes := make([]Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = flight.Do(context.Background(), "init", fn)
		}(i)
	}

	// Give the subscribers time to join the pending call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	got := <-first
	assert.Equal(t, "ready", got.Value)
	assert.NoError(t, got.Err)
	for _, o := range outcomes {
		assert.Equal(t, "ready", o.Value)
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestInflight_ContextCancel(t *testing.T) {
	var flight Inflight
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	out := flight.Do(ctx, "slow", func() (any, error) {
		<-block
		return nil, nil
	})

	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestMailbox_DeliversToItsOwnID(t *testing.T) {
	var box Mailbox
	slow := box.Open("slow")
	fast := box.Open("fast")
	require.Equal(t, 2, box.Len())

	assert.True(t, box.Deliver("fast", Outcome{Value: "fast result"}))
	assert.Equal(t, "fast result", (<-fast).Value)
	select {
	case got := <-slow:
		t.Fatalf("slow box settled with %v", got)
	default:
	}

	assert.False(t, box.Deliver("fast", Outcome{Value: "again"}), "settled box is gone")
	assert.True(t, box.Deliver("slow", Outcome{Err: errors.New("boom")}))
	assert.EqualError(t, (<-slow).Err, "boom")
	assert.Zero(t, box.Len())
}

func TestMailbox_Close(t *testing.T) {
	var box Mailbox
	box.Open("gone")
	box.Close("gone")
	assert.False(t, box.Deliver("gone", Outcome{}))
	assert.Zero(t, box.Len())
}
