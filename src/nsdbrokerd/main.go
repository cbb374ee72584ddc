// Command nsdbrokerd constructs a nsd.Broker with a debug logger and runs
// it until SIGINT or SIGTERM. The collaborators (the legacy daemon process,
// the managed discovery/advertiser stack, socket monitoring) are out of
// scope for this module (spec.md §1); none of them is wired here, so the
// broker this command runs has no backend.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/dogmatiq/dodeca/logging"

	"github.com/jmalloc/nsdbroker/src/nsd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := nsd.New(
		nsd.WithLogger(logging.DebugLogger),
	)

	if err := b.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
