package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/entrhq/devbridge/pkg/background"
	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/panel"
	"github.com/entrhq/devbridge/pkg/scripts"
)

type panelOptions struct {
	evals       []string
	interactive bool
	noColor     bool
	style       string
}

func newPanelCommand(c *cli) *cobra.Command {
	opts := &panelOptions{}
	cmd := &cobra.Command{
		Use:   "panel <script-id>",
		Short: "Show a script's source and evaluate code against the dev server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.panel(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringArrayVar(&opts.evals, "eval", nil, "Evaluate code in the page (repeatable)")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Open the interactive console")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Print source without highlighting")
	cmd.Flags().StringVar(&opts.style, "style", "monokai", "Highlighting style")
	return cmd
}

func (c *cli) panel(cmd *cobra.Command, id string, opts *panelOptions) error {
	list, err := c.loadScripts()
	if err != nil {
		return err
	}
	script, ok := scripts.Find(list, id)
	if !ok {
		return fmt.Errorf("unknown script %q", id)
	}

	render := panel.RenderOptions{Style: opts.style}
	if opts.noColor {
		render.Formatter = "noop"
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var eval panel.Evaluator
	if len(opts.evals) > 0 || opts.interactive {
		host, err := c.newHost(background.Options{Initial: list})
		if err != nil {
			return err
		}
		defer host.Close()
		if err := host.Initialize(ctx); err != nil {
			return err
		}
		eval = evaluator(host)
	}

	// Set once the interactive program exists; plain output renders at the end.
	var program atomic.Pointer[tea.Program]
	p := panel.New(panel.Options{
		Eval:   eval,
		Logger: c.logger,
		OnRender: func(fx.State) {
			if prog := program.Load(); prog != nil {
				go prog.Send(panel.RenderMsg{})
			}
		},
	})
	defer p.Close()
	if err := p.Open(script); err != nil {
		return err
	}

	if opts.interactive {
		prog := tea.NewProgram(panel.NewModel(p, render), tea.WithAltScreen(), tea.WithContext(ctx))
		program.Store(prog)
		if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("panel: %w", err)
		}
		return nil
	}

	for _, code := range opts.evals {
		if _, err := p.Eval(ctx, code); err != nil {
			return err
		}
	}

	out, err := panel.Render(p.State(), render)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func evaluator(host *background.Host) panel.Evaluator {
	return func(ctx context.Context, code string) (string, error) {
		e, err := host.Eval(ctx, code)
		if err != nil {
			return "", err
		}
		if e.Err != "" {
			return "", errors.New(e.Err)
		}
		return e.Result, nil
	}
}
