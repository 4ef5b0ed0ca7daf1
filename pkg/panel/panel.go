package panel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/logging"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// Evaluator runs code against the dev server and returns its printed result.
type Evaluator func(ctx context.Context, code string) (string, error)

// RenderFunc is called after console lines were added.
type RenderFunc func(s fx.State)

// Executor performs panel effects.
type Executor struct {
	ctx      context.Context
	eval     Evaluator
	onRender RenderFunc
	logger   *logging.Logger
	state    func() fx.State

	settled fx.Mailbox
	wg      sync.WaitGroup
}

// Execute implements fx.Executor.
func (x *Executor) Execute(d fx.Dispatcher, e fx.Effect) error {
	inner := fx.Unwrap(e)
	switch inner.Tag {
	case FxEval:
		if x.eval == nil {
			return fx.ErrUnhandledEffect
		}
		evalID, _ := inner.Arg(0).(string)
		code, _ := inner.Arg(1).(string)
		x.wg.Add(1)
		go func() {
			defer x.wg.Done()
			result, err := x.eval(x.ctx, code)
			errMsg := ""
			if err != nil {
				errMsg = err.Error()
			}
			if err := d.Dispatch(fx.A(ActResult, evalID, result, errMsg)); err != nil {
				x.logger.Errorf("dispatch eval result: %v", err)
			}
		}()
		return nil

	case FxRender:
		if x.onRender != nil && x.state != nil {
			x.onRender(x.state())
		}
		return nil

	case FxSettled:
		evalID, _ := inner.Arg(0).(string)
		entry, _ := inner.Arg(1).(Entry)
		x.settled.Deliver(evalID, fx.Outcome{Value: entry})
		return nil

	case FxRejected:
		evalID, _ := inner.Arg(0).(string)
		x.settled.Deliver(evalID, fx.Outcome{Err: ErrBusy})
		return nil
	}
	return fx.ErrUnhandledEffect
}

// Panel owns the panel store.
type Panel struct {
	store  *fx.Store
	exec   *Executor
	cancel context.CancelFunc
}

// Options configure a Panel.
type Options struct {
	Eval     Evaluator
	OnRender RenderFunc
	MaxLog   int
	Logger   *logging.Logger
}

// New creates a panel with an empty console.
func New(opts Options) *Panel {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	exec := &Executor{
		ctx:      ctx,
		eval:     opts.Eval,
		onRender: opts.OnRender,
		logger:   logger.With("panel"),
	}
	store := fx.NewStore(NewState(opts.MaxLog), Handler, exec, fx.WithLogger(logger.With("panel-store")))
	exec.state = store.State
	return &Panel{store: store, exec: exec, cancel: cancel}
}

// State returns the current panel state.
func (p *Panel) State() fx.State { return p.store.State() }

// Open shows s in the panel.
func (p *Panel) Open(s scripts.Script) error {
	return p.store.Dispatch(fx.A(ActOpen, s))
}

// Clear empties the console.
func (p *Panel) Clear() error {
	return p.store.Dispatch(fx.A(ActClear))
}

// Submit queues code for evaluation without waiting for its result.
func (p *Panel) Submit(code string) error {
	return p.store.Dispatch(fx.A(ActEval, code))
}

// Eval submits code and waits for its own result. It fails with ErrBusy
// while another evaluation is running.
func (p *Panel) Eval(ctx context.Context, code string) (Entry, error) {
	if code == "" {
		return Entry{}, fmt.Errorf("nothing to evaluate")
	}
	evalID := "eval-" + uuid.NewString()
	settled := p.exec.settled.Open(evalID)
	defer p.exec.settled.Close(evalID)

	if err := p.store.Dispatch(fx.A(ActEval, code, evalID)); err != nil {
		return Entry{}, err
	}
	select {
	case out := <-settled:
		entry, _ := out.Value.(Entry)
		return entry, out.Err
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// Close cancels running evaluations and waits for them.
func (p *Panel) Close() {
	p.cancel()
	p.exec.wg.Wait()
}
