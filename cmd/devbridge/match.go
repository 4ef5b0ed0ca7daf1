package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/entrhq/devbridge/pkg/scripts"
	"github.com/entrhq/devbridge/pkg/urlmatch"
)

func newMatchCommand(c *cli) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "match <url>",
		Short: "List the scripts injected into a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.loadScripts()
			if err != nil {
				return err
			}
			return printMatches(cmd.OutOrStdout(), list, args[0], all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include disabled scripts whose patterns match")
	return cmd
}

func printMatches(w io.Writer, list []scripts.Script, rawURL string, all bool) error {
	matched := scripts.ForURL(list, rawURL)
	if all {
		matched = matched[:0:0]
		for _, s := range list {
			ok, err := urlmatch.MatchAny(s.Matches, rawURL)
			if err != nil {
				return fmt.Errorf("script %s: %w", s.ID, err)
			}
			if ok {
				matched = append(matched, s)
			}
		}
	}

	fmt.Fprintf(w, "site: %s\n", urlmatch.Site(rawURL))
	if len(matched) == 0 {
		fmt.Fprintln(w, "no scripts match")
		return nil
	}
	for _, s := range matched {
		state := "enabled"
		if !s.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "%-20s %-8s %s\n", s.ID, state, s.Name)
	}
	return nil
}
