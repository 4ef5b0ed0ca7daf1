package background

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/devbridge/pkg/bridge"
	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// fakeConn stands in for a dev server connection.
type fakeConn struct {
	mu       sync.Mutex
	onNotify func(bridge.Notification)
	notified []string
	done     chan struct{}
	once     sync.Once
	call     func(method string, params any) (json.RawMessage, error)
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	if c.call == nil {
		return nil, errors.New("no handler")
	}
	return c.call(method, params)
}

func (c *fakeConn) Notify(method string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = append(c.notified, method)
	return nil
}

func (c *fakeConn) OnNotify(fn func(bridge.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotify = fn
}

func (c *fakeConn) push(method string, params any) {
	raw, _ := json.Marshal(params)
	c.mu.Lock()
	fn := c.onNotify
	c.mu.Unlock()
	fn(bridge.Notification{Method: method, Params: raw})
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func writeManifest(t *testing.T, list []scripts.Script) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devbridge.yaml")
	require.NoError(t, scripts.SaveManifest(path, &scripts.Manifest{Scripts: list}))
	return path
}

func newHost(t *testing.T, opts Options) *Host {
	t.Helper()
	h, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHost_ConcurrentInitializeSharesOneDial(t *testing.T) {
	var dials atomic.Int32
	release := make(chan struct{})
	conn := newFakeConn()

	h := newHost(t, Options{
		ManifestPath: writeManifest(t, testScripts),
		Dial: func(ctx context.Context) (ServerConn, error) {
			dials.Add(1)
			<-release
			return conn, nil
		},
	})

	const callers = 5
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { errs <- h.Initialize(context.Background()) }()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("initialize did not return")
		}
	}

	assert.Equal(t, int32(1), dials.Load())
	s := h.Store().State()
	assert.Equal(t, ConnConnected, Conn(s))
	assert.Equal(t, []string{"site", "local"}, scripts.IDs(Scripts(s)))
}

func TestHost_InitializeFailure(t *testing.T) {
	h := newHost(t, Options{
		ReconnectDelay: time.Hour,
		Dial: func(ctx context.Context) (ServerConn, error) {
			return nil, errors.New("connection refused")
		},
	})

	err := h.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, ConnFailed, Conn(h.Store().State()))
}

func TestHost_InitializeWithoutDialer(t *testing.T) {
	h := newHost(t, Options{ReconnectDelay: time.Hour})
	assert.Error(t, h.Initialize(context.Background()))
}

func TestHost_ReconnectsAfterFailure(t *testing.T) {
	var dials atomic.Int32
	conn := newFakeConn()
	h := newHost(t, Options{
		ReconnectDelay: 10 * time.Millisecond,
		Dial: func(ctx context.Context) (ServerConn, error) {
			if dials.Add(1) == 1 {
				return nil, errors.New("not yet")
			}
			return conn, nil
		},
	})

	assert.Error(t, h.Initialize(context.Background()))
	assert.Eventually(t, func() bool {
		return Conn(h.Store().State()) == ConnConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), dials.Load())
}

func TestHost_DisconnectTriggersReconnect(t *testing.T) {
	var dials atomic.Int32
	first, second := newFakeConn(), newFakeConn()
	h := newHost(t, Options{
		ReconnectDelay: 10 * time.Millisecond,
		Dial: func(ctx context.Context) (ServerConn, error) {
			if dials.Add(1) == 1 {
				return first, nil
			}
			return second, nil
		},
	})
	require.NoError(t, h.Initialize(context.Background()))

	_ = first.Close()
	assert.Eventually(t, func() bool {
		return dials.Load() == 2 && Conn(h.Store().State()) == ConnConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHost_NotificationsUpdateScripts(t *testing.T) {
	conn := newFakeConn()
	path := writeManifest(t, testScripts)
	h := newHost(t, Options{
		ManifestPath: path,
		Dial:         func(ctx context.Context) (ServerConn, error) { return conn, nil },
	})
	require.NoError(t, h.Initialize(context.Background()))

	conn.push(NotifyScriptChanged, map[string]any{
		"id": "fresh", "name": "Fresh", "matches": []string{"<all_urls>"}, "source": "f()", "enabled": true,
	})
	conn.push(NotifyScriptChanged, map[string]any{"id": "BAD"})
	conn.push(NotifyScriptRemoved, map[string]any{"id": "local"})

	assert.Equal(t, []string{"site", "fresh"}, scripts.IDs(Scripts(h.Store().State())))

	saved, err := scripts.LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"site", "fresh"}, scripts.IDs(saved.Scripts))
}

func TestHost_InjectsOpenTabs(t *testing.T) {
	conn := newFakeConn()
	var mu sync.Mutex
	injected := map[int][]string{}

	h := newHost(t, Options{
		ManifestPath: writeManifest(t, testScripts),
		Dial:         func(ctx context.Context) (ServerConn, error) { return conn, nil },
		Injector: func(tab Tab, list []scripts.Script) {
			mu.Lock()
			defer mu.Unlock()
			injected[tab.ID] = scripts.IDs(list)
		},
	})
	require.NoError(t, h.Initialize(context.Background()))
	require.NoError(t, h.OpenTab(1, "https://example.com/page"))
	require.NoError(t, h.OpenTab(2, "http://localhost:8080/"))

	mu.Lock()
	assert.Equal(t, []string{"site"}, injected[1])
	assert.Equal(t, []string{"local"}, injected[2])
	mu.Unlock()

	conn.mu.Lock()
	assert.Contains(t, conn.notified, NotifyTabInject)
	conn.mu.Unlock()

	require.NoError(t, h.ToggleScript("site", false))
	mu.Lock()
	assert.Empty(t, injected[1])
	mu.Unlock()

	require.NoError(t, h.CloseTab(1))
	assert.Len(t, Tabs(h.Store().State()), 1)
}

func TestHost_Eval(t *testing.T) {
	conn := newFakeConn()
	conn.call = func(method string, params any) (json.RawMessage, error) {
		if method != MethodEval {
			return nil, errors.New("unexpected method")
		}
		code := params.(map[string]any)["code"].(string)
		if code == "boom" {
			return nil, &bridge.RPCError{Code: 1, Message: "boom"}
		}
		return json.RawMessage(`"evaluated ` + code + `"`), nil
	}
	h := newHost(t, Options{Dial: func(ctx context.Context) (ServerConn, error) { return conn, nil }})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := h.Eval(ctx, "1+1")
	require.NoError(t, err)
	assert.Equal(t, "not connected", res.Err)

	require.NoError(t, h.Initialize(ctx))

	res, err = h.Eval(ctx, "1+1")
	require.NoError(t, err)
	assert.Equal(t, `"evaluated 1+1"`, res.Result)
	assert.Empty(t, res.Err)

	res, err = h.Eval(ctx, "boom")
	require.NoError(t, err)
	assert.Equal(t, "rpc error 1: boom", res.Err)
	assert.True(t, res.Done)
}

func TestHost_EvalResultsReachTheirOwnCaller(t *testing.T) {
	release := make(chan struct{})
	conn := newFakeConn()
	conn.call = func(_ string, params any) (json.RawMessage, error) {
		code := params.(map[string]any)["code"].(string)
		if code == "slow" {
			<-release
		}
		return json.RawMessage(`"` + code + ` done"`), nil
	}
	h := newHost(t, Options{Dial: func(ctx context.Context) (ServerConn, error) { return conn, nil }})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Initialize(ctx))

	slow := make(chan Eval, 1)
	go func() {
		res, _ := h.Eval(ctx, "slow")
		slow <- res
	}()
	assert.Eventually(t, func() bool { return len(Evals(h.Store().State())) == 1 },
		time.Second, 5*time.Millisecond)

	fast, err := h.Eval(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", fast.Code)
	assert.Equal(t, `"fast done"`, fast.Result)

	close(release)
	select {
	case res := <-slow:
		assert.Equal(t, `"slow done"`, res.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("slow eval did not settle")
	}
	assert.Empty(t, Evals(h.Store().State()), "settled evals are dropped")
	assert.Zero(t, h.exec.evals.Len())
}

func TestHost_EvalContextCancel(t *testing.T) {
	conn := newFakeConn()
	block := make(chan struct{})
	defer close(block)
	conn.call = func(string, any) (json.RawMessage, error) {
		<-block
		return nil, nil
	}
	h := newHost(t, Options{Dial: func(ctx context.Context) (ServerConn, error) { return conn, nil }})
	require.NoError(t, h.Initialize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Eval(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, h.exec.evals.Len(), "abandoned waiter is dropped")
}

func TestHost_PublishesScriptsAndStatus(t *testing.T) {
	var (
		mu       sync.Mutex
		lists    [][]string
		statuses []ConnStatus
	)
	h := newHost(t, Options{
		ManifestPath: writeManifest(t, testScripts),
		Dial:         func(ctx context.Context) (ServerConn, error) { return newFakeConn(), nil },
		OnScripts: func(list []scripts.Script) {
			var enabled []string
			for _, s := range list {
				if s.Enabled {
					enabled = append(enabled, s.ID)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			lists = append(lists, enabled)
		},
		OnStatus: func(status ConnStatus, _ string) {
			mu.Lock()
			defer mu.Unlock()
			statuses = append(statuses, status)
		},
	})
	require.NoError(t, h.Initialize(context.Background()))
	require.NoError(t, h.ToggleScript("local", false))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnStatus{ConnConnecting, ConnConnected}, statuses)
	assert.Equal(t, [][]string{{"site", "local"}, {"site"}}, lists)
}

func TestHost_ToggleFileBackedScriptSaves(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.js"), []byte("s()"), 0644))
	path := filepath.Join(dir, "devbridge.yaml")
	require.NoError(t, scripts.SaveManifest(path, &scripts.Manifest{Scripts: []scripts.Script{
		{ID: "site", Matches: []string{"<all_urls>"}, File: "site.js", Enabled: true},
	}}))

	h := newHost(t, Options{
		ManifestPath: path,
		Dial:         func(ctx context.Context) (ServerConn, error) { return newFakeConn(), nil },
	})
	require.NoError(t, h.Initialize(context.Background()))
	require.NoError(t, h.ToggleScript("site", false))

	saved, err := scripts.LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, saved.Scripts, 1)
	assert.False(t, saved.Scripts[0].Enabled)
	assert.Equal(t, "site.js", saved.Scripts[0].File)
}

func TestNew_DefaultsReconnectDelay(t *testing.T) {
	for _, delay := range []time.Duration{0, -time.Second} {
		h := newHost(t, Options{ReconnectDelay: delay})
		ms, _ := fx.Lookup[int](h.Store().State(), KeyReconnectMs)
		assert.Equal(t, int(DefaultReconnectDelay/time.Millisecond), ms)
	}

	h := newHost(t, Options{ReconnectDelay: 40 * time.Millisecond})
	ms, _ := fx.Lookup[int](h.Store().State(), KeyReconnectMs)
	assert.Equal(t, 40, ms)
}

func TestHost_RefusedDialerDoesNotSpin(t *testing.T) {
	var dials atomic.Int32
	h := newHost(t, Options{
		Dial: func(ctx context.Context) (ServerConn, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
	})
	assert.Error(t, h.Initialize(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load(), "the next attempt waits for the default delay")
}

func TestHost_Metrics(t *testing.T) {
	h := newHost(t, Options{ReconnectDelay: time.Hour})
	require.NoError(t, h.Dispatch(fx.A(ActTabOpened, Tab{ID: 1, URL: "https://a.test/"})))

	metrics, err := NewMetrics(h.Registry())
	require.NoError(t, err, "re-registration reuses the existing counters")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues(string(ActTabOpened))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues(string(ActTabsChanged))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.effects.WithLabelValues(string(FxInject), "ok")))
}

func TestExecutor_DeferAndClose(t *testing.T) {
	x := NewExecutor(context.Background(), nil, "", nil, nil, nil)
	var mu sync.Mutex
	var got []fx.Action
	d := dispatcherFunc(func(actions ...fx.Action) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, actions...)
		return nil
	})

	require.NoError(t, x.Execute(d, fx.Defer(5, fx.A("a/one"))))
	require.NoError(t, x.Execute(d, fx.Defer(int(time.Hour/time.Millisecond), fx.A("a/never"))))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, x.Close())
	require.NoError(t, x.Execute(d, fx.Defer(0, fx.A("a/after-close"))))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []fx.Action{fx.A("a/one")}, got)
}

func TestExecutor_UnknownEffect(t *testing.T) {
	x := NewExecutor(context.Background(), nil, "", nil, nil, nil)
	d := dispatcherFunc(func(...fx.Action) error { return nil })

	assert.ErrorIs(t, x.Execute(d, fx.E("fx/nope")), fx.ErrUnhandledEffect)
	assert.ErrorIs(t, x.Execute(d, fx.Await("fx/nope")), fx.ErrUnhandledEffect)
	assert.Error(t, x.Execute(d, fx.E(FxDispatch, "not a tag")))
	assert.Error(t, x.Execute(d, fx.E(FxInject, "not a tab")))
}

func TestExecutor_SaveManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devbridge.yaml")
	x := NewExecutor(context.Background(), nil, path, nil, nil, nil)
	d := dispatcherFunc(func(...fx.Action) error { return nil })

	require.NoError(t, x.Execute(d, fx.E(FxSaveManifest, testScripts)))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

type dispatcherFunc func(actions ...fx.Action) error

func (f dispatcherFunc) Dispatch(actions ...fx.Action) error { return f(actions...) }
