package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/entrhq/devbridge/pkg/bridge"
	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/logging"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// Server notification methods.
const (
	NotifyScriptChanged = "script.changed"
	NotifyScriptRemoved = "script.removed"
	NotifyTabInject     = "tab.inject"
)

// ServerConn is the dev server connection used by the executor. *bridge.Client
// implements it.
type ServerConn interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(method string, params any) error
	OnNotify(fn func(bridge.Notification))
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a new dev server connection.
type DialFunc func(ctx context.Context) (ServerConn, error)

// Injector receives the scripts selected for a tab.
type Injector func(tab Tab, list []scripts.Script)

// ScriptsFunc receives the script list each time it changes. It runs on the
// dispatching goroutine and must not block.
type ScriptsFunc func(list []scripts.Script)

// StatusFunc receives connection status changes. It runs on the dispatching
// goroutine and must not block.
type StatusFunc func(status ConnStatus, lastErr string)

// Executor performs background effects. Blocking work runs on its own
// goroutines and reports back by dispatching actions.
type Executor struct {
	ctx          context.Context
	dial         DialFunc
	manifestPath string
	inflight     *fx.Inflight
	inject       Injector
	onScripts    ScriptsFunc
	onStatus     StatusFunc
	evals        fx.Mailbox
	logger       *logging.Logger

	// state reads the committed store state; set once the store exists
	state func() fx.State

	mu     sync.Mutex
	conn   ServerConn
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewExecutor creates an executor. Work it starts stops when ctx is done.
func NewExecutor(ctx context.Context, dial DialFunc, manifestPath string, inflight *fx.Inflight, inject Injector, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	if inflight == nil {
		inflight = &fx.Inflight{}
	}
	return &Executor{
		ctx:          ctx,
		dial:         dial,
		manifestPath: manifestPath,
		inflight:     inflight,
		inject:       inject,
		logger:       logger,
		timers:       make(map[*time.Timer]struct{}),
	}
}

// Execute implements fx.Executor.
func (x *Executor) Execute(d fx.Dispatcher, e fx.Effect) error {
	if fx.IsAwait(e) {
		return x.executeAwait(d, fx.Unwrap(e))
	}

	switch e.Tag {
	case fx.TagDefer:
		return x.deferDispatch(d, e)

	case fx.TagChain:
		effects, ok := fx.ChainedEffects(e)
		if !ok {
			return fmt.Errorf("malformed chain effect %s", e)
		}
		x.goWork(func() {
			if err := fx.RunChain(effects, func(step fx.Effect) (any, error) {
				return x.runStep(d, step)
			}); err != nil {
				x.logger.Warnf("chain stopped: %v", err)
			}
		})
		return nil

	case FxInject:
		return x.injectScripts(e)

	case FxSaveManifest:
		return x.saveManifest(e)

	case FxDispatch:
		return x.dispatch(d, e)

	case FxLog:
		x.log(e)
		return nil

	case FxPublishScripts:
		list, _ := e.Arg(0).([]scripts.Script)
		if x.onScripts != nil {
			x.onScripts(list)
		}
		return nil

	case FxPublishStatus:
		status, _ := e.Arg(0).(ConnStatus)
		lastErr, _ := e.Arg(1).(string)
		if x.onStatus != nil {
			x.onStatus(status, lastErr)
		}
		return nil

	case FxEvalDone:
		evalID, _ := e.Arg(0).(string)
		result, ok := e.Arg(1).(Eval)
		if !ok {
			return fmt.Errorf("malformed eval-done effect %s", e)
		}
		if !x.evals.Deliver(evalID, fx.Outcome{Value: result}) {
			x.logger.Debugf("eval %s settled with no waiter", evalID)
		}
		return nil
	}
	return fx.ErrUnhandledEffect
}

func (x *Executor) executeAwait(d fx.Dispatcher, e fx.Effect) error {
	switch e.Tag {
	case FxInitialize:
		reqID, _ := e.Arg(0).(string)
		if reqID == "" {
			return errors.New("initialize requires a request id")
		}
		// The subscription is registered before Execute returns, so callers
		// that read the pending id after Dispatch can join it.
		x.inflight.Subscribe(reqID, x.initializeFunc(d, reqID))
		return nil

	case FxRPC:
		x.goWork(func() {
			if _, err := x.rpc(d, e); err != nil {
				x.logger.Warnf("%s failed: %v", e, err)
			}
		})
		return nil
	}
	return fx.ErrUnhandledEffect
}

// runStep performs one chained effect synchronously and returns its value.
func (x *Executor) runStep(d fx.Dispatcher, step fx.Effect) (any, error) {
	if fx.IsAwait(step) {
		inner := fx.Unwrap(step)
		switch inner.Tag {
		case FxRPC:
			return x.rpc(d, inner)
		case FxInitialize:
			reqID, _ := inner.Arg(0).(string)
			out := x.inflight.Do(x.ctx, reqID, x.initializeFunc(d, reqID))
			return out.Value, out.Err
		}
		return nil, fmt.Errorf("%w: %s", fx.ErrUnhandledEffect, step)
	}
	return nil, x.Execute(d, step)
}

func (x *Executor) initializeFunc(d fx.Dispatcher, reqID string) func() (any, error) {
	return func() (any, error) {
		// Whoever runs first under reqID does the work. A run starting after
		// the request settled reports the settled outcome instead.
		if x.state != nil {
			if s := x.state(); PendingInit(s) != reqID {
				return nil, connErr(s)
			}
		}
		list, err := x.connect(d)
		if err != nil {
			_ = d.Dispatch(fx.A(ActInitFailed, reqID, err.Error()))
			return nil, err
		}
		// Settle state before the shared result is released to waiters
		_ = d.Dispatch(fx.A(ActInitDone, reqID, list))
		return list, nil
	}
}

// connect dials the dev server and loads the manifest.
func (x *Executor) connect(d fx.Dispatcher) ([]scripts.Script, error) {
	if x.dial == nil {
		return nil, errors.New("no dev server configured")
	}

	conn, err := x.dial(x.ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to dev server: %w", err)
	}

	list, err := x.loadManifest()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		_ = conn.Close()
		return nil, errors.New("background host is closed")
	}
	previous := x.conn
	x.conn = conn
	x.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	conn.OnNotify(func(n bridge.Notification) {
		x.handleNotification(d, n)
	})
	x.goWork(func() {
		select {
		case <-conn.Done():
		case <-x.ctx.Done():
			return
		}
		x.mu.Lock()
		current := x.conn == conn
		if current {
			x.conn = nil
		}
		x.mu.Unlock()
		if current {
			_ = d.Dispatch(fx.A(ActDisconnected))
		}
	})

	return list, nil
}

func (x *Executor) loadManifest() ([]scripts.Script, error) {
	if x.manifestPath == "" {
		return []scripts.Script{}, nil
	}
	manifest, err := scripts.LoadManifest(x.manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		x.logger.Infof("no manifest at %s, starting empty", x.manifestPath)
		return []scripts.Script{}, nil
	}
	if err != nil {
		return nil, err
	}
	return manifest.Scripts, nil
}

func (x *Executor) handleNotification(d fx.Dispatcher, n bridge.Notification) {
	switch n.Method {
	case NotifyScriptChanged:
		var s scripts.Script
		if err := json.Unmarshal(n.Params, &s); err != nil {
			x.logger.Warnf("bad %s payload: %v", n.Method, err)
			return
		}
		if err := s.Validate(); err != nil {
			x.logger.Warnf("rejected script from dev server: %v", err)
			return
		}
		_ = d.Dispatch(fx.A(ActScriptUpdated, s))

	case NotifyScriptRemoved:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(n.Params, &payload); err != nil {
			x.logger.Warnf("bad %s payload: %v", n.Method, err)
			return
		}
		_ = d.Dispatch(fx.A(ActScriptRemoved, payload.ID))

	default:
		x.logger.Debugf("ignoring notification %s", n.Method)
	}
}

// rpc args: method, params, optional failure action. On error the failure
// action is dispatched with the error message appended.
func (x *Executor) rpc(d fx.Dispatcher, e fx.Effect) (any, error) {
	method, _ := e.Arg(0).(string)

	var (
		raw json.RawMessage
		err error
	)
	if conn := x.connection(); conn == nil {
		err = bridge.ErrNotConnected
	} else {
		raw, err = conn.Call(x.ctx, method, e.Arg(1))
	}

	if err != nil {
		if onErr, ok := e.Arg(2).(fx.Action); ok {
			args := append(append([]any{}, onErr.Args...), err.Error())
			_ = d.Dispatch(fx.A(onErr.Tag, args...))
		}
		return nil, err
	}
	return raw, nil
}

func (x *Executor) deferDispatch(d fx.Dispatcher, e fx.Effect) error {
	delay, actions, ok := fx.DeferredActions(e)
	if !ok {
		return fmt.Errorf("malformed defer effect %s", e)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		x.mu.Lock()
		delete(x.timers, timer)
		closed := x.closed
		x.mu.Unlock()
		if !closed {
			_ = d.Dispatch(actions...)
		}
	})
	x.timers[timer] = struct{}{}
	return nil
}

func (x *Executor) injectScripts(e fx.Effect) error {
	tab, ok := e.Arg(0).(Tab)
	if !ok {
		return fmt.Errorf("malformed inject effect %s", e)
	}
	list, _ := e.Arg(1).([]scripts.Script)

	x.logger.Infof("tab %d (%s): %d script(s)", tab.ID, tab.URL, len(list))
	if x.inject != nil {
		x.inject(tab, list)
	}
	if conn := x.connection(); conn != nil {
		payload := map[string]any{"tab": tab.ID, "url": tab.URL, "scripts": scripts.IDs(list)}
		if err := conn.Notify(NotifyTabInject, payload); err != nil {
			return fmt.Errorf("notify %s: %w", NotifyTabInject, err)
		}
	}
	return nil
}

func (x *Executor) saveManifest(e fx.Effect) error {
	if x.manifestPath == "" {
		return nil
	}
	list, _ := e.Arg(0).([]scripts.Script)
	return scripts.SaveManifest(x.manifestPath, &scripts.Manifest{Scripts: list})
}

// dispatch args: tag, action args...
func (x *Executor) dispatch(d fx.Dispatcher, e fx.Effect) error {
	tag, ok := e.Arg(0).(fx.Tag)
	if !ok {
		return fmt.Errorf("malformed dispatch effect %s", e)
	}
	return d.Dispatch(fx.A(tag, e.Args[1:]...))
}

func (x *Executor) log(e fx.Effect) {
	level, _ := e.Arg(0).(string)
	msg, _ := e.Arg(1).(string)
	switch level {
	case "debug":
		x.logger.Debugf("%s", msg)
	case "warn":
		x.logger.Warnf("%s", msg)
	case "error":
		x.logger.Errorf("%s", msg)
	default:
		x.logger.Infof("%s", msg)
	}
}

func (x *Executor) connection() ServerConn {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.conn
}

func (x *Executor) goWork(fn func()) {
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		fn()
	}()
}

// Close stops pending timers, closes the connection and waits for
// background work. Cancel the executor's context first so blocked calls
// return.
func (x *Executor) Close() error {
	x.mu.Lock()
	x.closed = true
	for timer := range x.timers {
		timer.Stop()
	}
	x.timers = make(map[*time.Timer]struct{})
	conn := x.conn
	x.conn = nil
	x.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	x.wg.Wait()
	return err
}
