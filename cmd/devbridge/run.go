package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/entrhq/devbridge/pkg/background"
	"github.com/entrhq/devbridge/pkg/config"
	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/popup"
	"github.com/entrhq/devbridge/pkg/scripts"
)

type runOptions struct {
	metricsAddr string
	tabs        []string
}

func newRunCommand(c *cli) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the dev server and show the script popup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringArrayVar(&opts.tabs, "tab", nil, "Track an open page URL (repeatable)")
	return cmd
}

func (c *cli) run(parent context.Context, opts *runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := c.resolved()
	registry := prometheus.NewRegistry()

	// Publish callbacks run on whichever goroutine dispatched, the UI one
	// included, so they only queue; relay forwards in order.
	updates := make(chan tea.Msg, 64)
	post := func(msg tea.Msg) {
		select {
		case updates <- msg:
		case <-ctx.Done():
		}
	}

	host, err := c.newHost(background.Options{
		Registry: registry,
		Injector: func(tab background.Tab, list []scripts.Script) {
			c.logger.Infof("tab %d (%s): %d script(s) %v", tab.ID, tab.Site(), len(list), scripts.IDs(list))
		},
		OnScripts: func(list []scripts.Script) {
			post(popup.ScriptsMsg(list))
		},
		OnStatus: func(status background.ConnStatus, lastErr string) {
			post(statusFor(status, lastErr, res.ServerURL))
		},
	})
	if err != nil {
		return err
	}
	defer host.Close()
	post(popup.ScriptsMsg(background.Scripts(host.Store().State())))

	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, registry, c)
		defer srv.Shutdown(context.Background())
	}

	ui := config.GetUI()
	enter, leave := ui.Animation()
	exec := popup.NewExecutor(host.ToggleScript, c.logger.With("popup"))
	defer exec.Stop()

	store := fx.NewStore(
		popup.NewState(popup.Settings{
			EnterMs:      int(enter / time.Millisecond),
			LeaveMs:      int(leave / time.Millisecond),
			ShowDisabled: ui.ShowDisabled,
			BaseURL:      httpBase(res.ServerURL),
		}),
		popup.Handler,
		exec,
		fx.WithLogger(c.logger.With("popup-store")),
	)

	program := tea.NewProgram(popup.NewModel(store), tea.WithAltScreen(), tea.WithContext(ctx))
	exec.Attach(program)

	go relay(ctx, updates, program.Send)
	go c.connect(ctx, host, opts.tabs)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("popup: %w", err)
	}
	return nil
}

// connect initializes the host and registers the requested tabs. Later
// changes reach the popup through the host's publish callbacks.
func (c *cli) connect(ctx context.Context, host *background.Host, tabs []string) {
	if err := host.Initialize(ctx); err != nil {
		c.logger.Warnf("initialize: %v", err)
	}
	for i, tab := range tabs {
		if err := host.OpenTab(i+1, tab); err != nil {
			c.logger.Errorf("open tab %s: %v", tab, err)
		}
	}
}

// relay delivers queued messages to send in order until ctx is done.
func relay(ctx context.Context, updates <-chan tea.Msg, send func(tea.Msg)) {
	for {
		select {
		case msg := <-updates:
			send(msg)
		case <-ctx.Done():
			return
		}
	}
}

func statusFor(status background.ConnStatus, lastErr, serverURL string) popup.StatusMsg {
	switch status {
	case background.ConnConnected:
		return popup.StatusMsg{Text: "connected to " + serverURL}
	case background.ConnConnecting:
		return popup.StatusMsg{Text: "connecting to " + serverURL, Connecting: true}
	case background.ConnFailed:
		return popup.StatusMsg{Text: "failed: " + lastErr + " (retrying)"}
	}
	return popup.StatusMsg{Text: "disconnected (retrying)"}
}

func serveMetrics(addr string, registry *prometheus.Registry, c *cli) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Errorf("metrics server: %v", err)
		}
	}()
	c.logger.Infof("serving metrics on %s/metrics", addr)
	return srv
}

// httpBase maps the websocket server URL to the HTTP origin scripts are
// served from.
func httpBase(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
