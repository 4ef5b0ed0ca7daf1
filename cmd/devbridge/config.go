package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/devbridge/pkg/config"
)

func newConfigCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printConfig(cmd.OutOrStdout(), c.resolved(), config.GetUI())
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Write the current flags into the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := c.resolved()
			bridge := config.GetBridge()
			data := bridge.Data()
			data["server_url"] = res.ServerURL
			data["token"] = res.Token
			data["manifest_path"] = res.ManifestPath
			if err := bridge.SetData(data); err != nil {
				return err
			}
			if err := config.Global().SaveAll(); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration saved")
			return nil
		},
	})
	return cmd
}

func printConfig(w io.Writer, res config.Resolved, ui *config.UISection) {
	enter, leave := ui.Animation()
	fmt.Fprintf(w, "server:          %s\n", res.ServerURL)
	fmt.Fprintf(w, "token:           %s\n", maskToken(res.Token))
	fmt.Fprintf(w, "call timeout:    %s\n", res.CallTimeout)
	fmt.Fprintf(w, "reconnect delay: %s\n", res.ReconnectDelay)
	fmt.Fprintf(w, "manifest:        %s\n", res.ManifestPath)
	fmt.Fprintf(w, "animation:       enter %s, leave %s\n", enter, leave)
	fmt.Fprintf(w, "show disabled:   %t\n", ui.ShowDisabled)
}

func maskToken(token string) string {
	if token == "" {
		return "(none)"
	}
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return token[:2] + strings.Repeat("*", len(token)-4) + token[len(token)-2:]
}
