package popup

import (
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/logging"
)

// ToggleFunc forwards a script toggle to whoever owns the script list.
type ToggleFunc func(id string, enabled bool) error

// Executor performs popup effects. Deferred actions are delivered through
// the running tea.Program when one is attached, so they are dispatched on
// the UI goroutine.
type Executor struct {
	toggle   ToggleFunc
	copyText func(string) error
	logger   *logging.Logger

	mu      sync.Mutex
	send    func(tea.Msg)
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewExecutor creates a popup executor. toggle may be nil.
func NewExecutor(toggle ToggleFunc, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		toggle:   toggle,
		copyText: clipboard.WriteAll,
		logger:   logger,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Attach routes deferred actions through p.
func (x *Executor) Attach(p *tea.Program) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.send = p.Send
}

// Execute implements fx.Executor.
func (x *Executor) Execute(d fx.Dispatcher, e fx.Effect) error {
	switch e.Tag {
	case fx.TagDefer:
		delay, actions, ok := fx.DeferredActions(e)
		if !ok {
			return fmt.Errorf("malformed defer effect %s", e)
		}
		x.after(time.Duration(delay)*time.Millisecond, d, actions)
		return nil

	case FxClipboard:
		text, _ := e.Arg(0).(string)
		if err := x.copyText(text); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		x.logger.Debugf("copied %s", text)
		return nil

	case FxToggleScript:
		id, _ := e.Arg(0).(string)
		enabled, _ := e.Arg(1).(bool)
		if x.toggle == nil {
			return fx.ErrUnhandledEffect
		}
		return x.toggle(id, enabled)
	}
	return fx.ErrUnhandledEffect
}

func (x *Executor) after(delay time.Duration, d fx.Dispatcher, actions []fx.Action) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stopped {
		return
	}
	send := x.send
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		x.mu.Lock()
		delete(x.timers, timer)
		stopped := x.stopped
		x.mu.Unlock()
		if stopped {
			return
		}
		if send != nil {
			send(DispatchMsg(actions))
			return
		}
		if err := d.Dispatch(actions...); err != nil {
			x.logger.Errorf("deferred dispatch failed: %v", err)
		}
	})
	x.timers[timer] = struct{}{}
}

func (x *Executor) pending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.timers)
}

// Stop cancels pending deferred actions.
func (x *Executor) Stop() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.stopped = true
	for t := range x.timers {
		t.Stop()
	}
	x.timers = make(map[*time.Timer]struct{})
}
