// Command catalogctl runs maintenance tasks against the catalog: backups,
// restores, orphaned image cleanup, image repair and diagnostics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var e env
	err := newRootCmd(&e).ExecuteContext(ctx)
	e.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
