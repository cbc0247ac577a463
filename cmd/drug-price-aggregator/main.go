// Package main boots the drug price aggregator: an HTTP service plus a few
// one-shot commands over the same core.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		obs.Logger.Error("command_failed", "error", err.Error())
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}
	return 0
}
