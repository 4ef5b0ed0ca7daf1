package fx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/devbridge/pkg/logging"
)

const defaultMaxDepth = 32

var (
	// ErrUnhandledEffect is returned by an executor for effects it does not
	// know. The store drops such effects without surfacing an error.
	ErrUnhandledEffect = errors.New("fx: unhandled effect")

	// ErrCascadeDepth means follow-up or watcher actions kept producing more
	// work past the configured depth. It indicates a handler defect.
	ErrCascadeDepth = errors.New("fx: dispatch cascade exceeded max depth")
)

// Dispatcher feeds actions into a dispatch loop. Executors receive one so
// asynchronous results can re-enter.
type Dispatcher interface {
	Dispatch(actions ...Action) error
}

// Executor performs effects on behalf of the pure core.
type Executor interface {
	Execute(d Dispatcher, e Effect) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(d Dispatcher, e Effect) error

// Execute calls f.
func (f ExecutorFunc) Execute(d Dispatcher, e Effect) error {
	return f(d, e)
}

// Observer is notified of every handled action and executed effect.
type Observer interface {
	ObserveAction(a Action)
	ObserveEffect(e Effect, err error)
}

// Store is the stateful driver. It owns the only mutable reference to state
// and replaces it as a whole value once per cycle.
type Store struct {
	mu       sync.Mutex
	state    State
	handler  Handler
	executor Executor
	ambient  func() Ambient
	maxDepth int
	logger   *logging.Logger
	observer Observer
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAmbient sets the function producing the per-dispatch Ambient value.
func WithAmbient(fn func() Ambient) StoreOption {
	return func(s *Store) {
		s.ambient = fn
	}
}

// WithMaxDepth bounds follow-up folding and watcher cascades.
func WithMaxDepth(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// WithLogger sets the logger used for dropped effects and executor errors.
func WithLogger(l *logging.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers an observer for actions and effects.
func WithObserver(o Observer) StoreOption {
	return func(s *Store) {
		s.observer = o
	}
}

// NewStore creates a store holding initial and driving handler and executor.
func NewStore(initial State, handler Handler, executor Executor, opts ...StoreOption) *Store {
	s := &Store{
		state:    initial,
		handler:  handler,
		executor: executor,
		ambient: func() Ambient {
			return Ambient{Now: time.Now()}
		},
		maxDepth: defaultMaxDepth,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch runs one cycle: fold the actions (and their follow-ups), run
// watcher detection with cascades, commit the new state, then hand every
// effect to the executor in emission order.
//
// The commit happens before any effect runs. The lock is released before
// effects run, so executors may call Dispatch again.
func (s *Store) Dispatch(actions ...Action) error {
	s.mu.Lock()
	old := s.state
	amb := s.ambient()
	next, fxs, err := s.cycle(old, amb, actions, 0)
	if err != nil {
		s.mu.Unlock()
		s.logger.Errorf("dispatch of %d action(s) aborted: %v", len(actions), err)
		return err
	}
	s.state = next
	s.mu.Unlock()

	s.runEffects(fxs)
	return nil
}

func (s *Store) cycle(old State, amb Ambient, actions []Action, depth int) (State, []Effect, error) {
	if depth > s.maxDepth {
		return old, nil, fmt.Errorf("%w (%d)", ErrCascadeDepth, s.maxDepth)
	}

	db := old
	var fxs []Effect
	pending := actions
	for folds := 0; len(pending) > 0; folds++ {
		if folds > s.maxDepth {
			return old, nil, fmt.Errorf("%w: follow-up actions (%d)", ErrCascadeDepth, s.maxDepth)
		}
		s.observeActions(pending)
		res := HandleActions(db, amb, s.handler, pending)
		if res.DB != nil {
			db = *res.DB
		}
		fxs = append(fxs, res.Fxs...)
		pending = res.Dxs
	}

	// Always before-cycle against after-cycle, never a mid-batch state
	watcherActions := ListWatcherActions(old, db)
	if len(watcherActions) > 0 {
		next, more, err := s.cycle(db, amb, watcherActions, depth+1)
		if err != nil {
			return old, nil, err
		}
		db = next
		fxs = append(fxs, more...)
	}

	return db, fxs, nil
}

func (s *Store) observeActions(actions []Action) {
	if s.observer == nil {
		return
	}
	for _, a := range actions {
		if !a.IsZero() {
			s.observer.ObserveAction(a)
		}
	}
}

func (s *Store) runEffects(fxs []Effect) {
	for _, e := range fxs {
		var err error
		if s.executor == nil {
			err = ErrUnhandledEffect
		} else {
			err = s.executor.Execute(s, e)
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrUnhandledEffect):
			s.logger.Debugf("dropped unhandled effect %s", e)
		default:
			s.logger.Errorf("effect %s failed: %v", e, err)
		}

		if s.observer != nil {
			s.observer.ObserveEffect(e, err)
		}
	}
}
