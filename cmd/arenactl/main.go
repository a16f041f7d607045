// Command arenactl runs arena reconciliation tasks against the database:
// migrations, single approvals, backfill passes and legacy classification.
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
	err := newRootCmd(newApp(os.Stdout)).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "arenactl:", err)
		os.Exit(exitCodeFor(err))
	}
}
