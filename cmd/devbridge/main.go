// Package main provides the devbridge command: a terminal companion for a
// user-script dev server. It keeps the script list in sync over a websocket,
// shows it in a popup-style TUI and evaluates code in the page.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
