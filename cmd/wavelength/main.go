// Wavelength CLI entry point.
//
// wavelength runs a chat relay (`wavelength relay`) or joins one
// (`wavelength connect`). Peers tune in to a frequency between 30 and 300
// and everything they say or attach reaches the other peers on it.
// Without a subcommand it asks interactively.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
