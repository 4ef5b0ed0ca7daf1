package background

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/logging"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// DefaultReconnectDelay applies when Options.ReconnectDelay is not positive.
const DefaultReconnectDelay = 2 * time.Second

// Options configure a Host.
type Options struct {
	Dial           DialFunc
	ManifestPath   string
	Initial        []scripts.Script
	ReconnectDelay time.Duration
	Injector       Injector
	Logger         *logging.Logger

	// OnScripts and OnStatus observe script list and connection changes.
	OnScripts ScriptsFunc
	OnStatus  StatusFunc

	// Registry receives the dispatch metrics. nil creates a private one.
	Registry *prometheus.Registry
}

// Host wires the background handler, executor and store together.
type Host struct {
	store    *fx.Store
	exec     *Executor
	inflight *fx.Inflight
	registry *prometheus.Registry
	logger   *logging.Logger
	cancel   context.CancelFunc
}

// New creates a background host. Nothing connects until Initialize or a
// bg/init action.
func New(opts Options) (*Host, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics, err := NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	initial := opts.Initial
	if initial == nil {
		initial = []scripts.Script{}
	}

	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	inflight := &fx.Inflight{}
	exec := NewExecutor(ctx, opts.Dial, opts.ManifestPath, inflight, opts.Injector, logger.With("executor"))
	exec.onScripts = opts.OnScripts
	exec.onStatus = opts.OnStatus

	store := fx.NewStore(
		NewState(initial, int(delay/time.Millisecond)),
		Handler,
		exec,
		fx.WithAmbient(func() fx.Ambient {
			return fx.NewAmbient(time.Now(), map[string]string{AmbientRequestID: uuid.NewString()})
		}),
		fx.WithLogger(logger.With("store")),
		fx.WithObserver(metrics),
	)
	exec.state = store.State

	return &Host{
		store:    store,
		exec:     exec,
		inflight: inflight,
		registry: registry,
		logger:   logger,
		cancel:   cancel,
	}, nil
}

// Store returns the background store.
func (h *Host) Store() *fx.Store {
	return h.store
}

// Registry returns the metrics registry.
func (h *Host) Registry() *prometheus.Registry {
	return h.registry
}

// Dispatch feeds actions into the background store.
func (h *Host) Dispatch(actions ...fx.Action) error {
	return h.store.Dispatch(actions...)
}

// Initialize connects to the dev server and loads scripts. Concurrent
// callers share one in-flight initialization and all see its outcome.
func (h *Host) Initialize(ctx context.Context) error {
	if err := h.store.Dispatch(fx.A(ActInit, uuid.NewString())); err != nil {
		return err
	}

	pending := PendingInit(h.store.State())
	if pending == "" {
		return connErr(h.store.State())
	}

	// Joins the run started by the executor, or starts it if this caller
	// got here first.
	out := h.inflight.Do(ctx, pending, h.exec.initializeFunc(h.store, pending))
	return out.Err
}

func connErr(s fx.State) error {
	switch status := Conn(s); status {
	case ConnConnected:
		return nil
	case ConnFailed:
		return fmt.Errorf("initialize: %s", LastError(s))
	default:
		return fmt.Errorf("initialize: connection %s", status)
	}
}

// OpenTab registers an open page, or a navigation of a known tab.
func (h *Host) OpenTab(id int, url string) error {
	return h.store.Dispatch(fx.A(ActTabOpened, Tab{ID: id, URL: url}))
}

// CloseTab forgets a page.
func (h *Host) CloseTab(id int) error {
	return h.store.Dispatch(fx.A(ActTabClosed, id))
}

// ToggleScript enables or disables a script.
func (h *Host) ToggleScript(id string, enabled bool) error {
	return h.store.Dispatch(fx.A(ActScriptToggled, id, enabled))
}

// Eval forwards code to the dev server and waits for its result.
func (h *Host) Eval(ctx context.Context, code string) (Eval, error) {
	evalID := uuid.NewString()
	settled := h.exec.evals.Open(evalID)
	defer h.exec.evals.Close(evalID)

	if err := h.store.Dispatch(fx.A(ActEval, evalID, code)); err != nil {
		return Eval{}, err
	}
	select {
	case out := <-settled:
		result, _ := out.Value.(Eval)
		return result, out.Err
	case <-ctx.Done():
		return Eval{}, ctx.Err()
	}
}

// Close stops timers and background work and drops the connection.
func (h *Host) Close() error {
	h.cancel()
	return h.exec.Close()
}
