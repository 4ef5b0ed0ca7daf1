package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/devbridge/pkg/background"
	"github.com/entrhq/devbridge/pkg/bridge"
	"github.com/entrhq/devbridge/pkg/config"
	"github.com/entrhq/devbridge/pkg/logging"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// cli holds flag values shared by every subcommand.
type cli struct {
	configPath string
	server     string
	token      string
	manifest   string
	logLevel   string

	logger *logging.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "devbridge",
		Short: "Live user-script development against a dev server",
		Long: `devbridge connects to a user-script dev server, keeps the script list in
sync and shows which scripts apply to which pages.

Examples:
  devbridge run                                 # popup UI against the dev server
  devbridge run --tab https://example.com/      # also track an open page
  devbridge match https://news.example.com/a    # scripts injected into a URL
  devbridge panel hello --eval 'document.title' # source and a console round trip
  devbridge config                              # effective configuration`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initialize()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				c.logger.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "Config file (default ~/.devbridge/config.json)")
	flags.StringVar(&c.server, "server", "", "Dev server websocket URL (or DEVBRIDGE_SERVER)")
	flags.StringVar(&c.token, "token", "", "Dev server token (or DEVBRIDGE_TOKEN)")
	flags.StringVar(&c.manifest, "manifest", "", "Script manifest (default devbridge.yaml)")
	flags.StringVar(&c.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCommand(c))
	root.AddCommand(newMatchCommand(c))
	root.AddCommand(newPanelCommand(c))
	root.AddCommand(newConfigCommand(c))

	return root
}

func (c *cli) initialize() error {
	if err := config.Initialize(c.configPath); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	logger, err := logging.NewLogger("devbridge")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	level, err := logging.ParseLevel(c.logLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	c.logger = logger
	return nil
}

func (c *cli) resolved() config.Resolved {
	return config.GetBridge().Resolve(c.server, c.token, c.manifest)
}

func (c *cli) loadScripts() ([]scripts.Script, error) {
	manifest, err := scripts.LoadManifest(c.resolved().ManifestPath)
	if err != nil {
		return nil, err
	}
	return manifest.Scripts, nil
}

// dialer opens bridge clients for the background host.
func (c *cli) dialer() background.DialFunc {
	res := c.resolved()
	return func(ctx context.Context) (background.ServerConn, error) {
		client, err := bridge.Dial(ctx, bridge.Config{
			URL:     res.ServerURL,
			Token:   res.Token,
			Timeout: res.CallTimeout,
			Logger:  c.logger.With("bridge"),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (c *cli) newHost(opts background.Options) (*background.Host, error) {
	res := c.resolved()
	opts.Dial = c.dialer()
	opts.ManifestPath = res.ManifestPath
	opts.ReconnectDelay = res.ReconnectDelay
	if opts.Logger == nil {
		opts.Logger = c.logger.With("background")
	}
	return background.New(opts)
}
