package nsd

import (
	"context"
	"time"
)

// cleanupCmd is the delayed daemon-stop message (spec.md §3, "pending
// delayed-cleanup message"). Each one carries the generation it was
// scheduled under; stale generations (superseded by a later schedule or a
// cancellation) are dropped on arrival instead of being removed from a
// queue, since a fired timer cannot be un-posted — the same "re-enqueue
// replaces the existing one" behaviour spec.md §4.7 asks for, implemented
// with a generation counter instead of queue surgery.
type cleanupCmd struct {
	generation uint64
}

func (*cleanupCmd) isCommand() {}

// scheduleStop arms (or re-arms) the delayed daemon-stop timer, grounded on
// dissolve/mdns/responder/responder.go's schedule(), which posts a command
// back onto the loop after a delay via a detached goroutine.
func (b *Broker) scheduleStop() {
	b.cleanupGeneration++
	gen := b.cleanupGeneration

	time.AfterFunc(b.config.CleanupDelay, func() {
		b.post(&cleanupCmd{generation: gen})
	})
}

// cancelStop invalidates any pending cleanup message by bumping the
// generation counter; a cleanupCmd carrying an older generation is dropped
// when it arrives (see (*Broker).dispatchCleanup).
func (b *Broker) cancelStop() {
	b.cleanupGeneration++
}

// maybeStartDaemon starts the legacy engine if it is not already running.
// It is idempotent. It always cancels any pending delayed stop, since every
// caller is about to hand the daemon a new request to service — including
// when the daemon was already running, which is the common case of new
// legacy work arriving while a previous request's cleanup timer is still
// pending (spec.md §4.7).
func (b *Broker) maybeStartDaemon(ctx context.Context) error {
	b.cancelStop()

	if b.daemonStarted || b.legacy == nil {
		return nil
	}

	b.legacy.RegisterEventListener(b)

	if err := b.legacy.StartDaemon(ctx); err != nil {
		return err
	}

	b.daemonStarted = true

	return nil
}

// maybeStopDaemon stops the legacy engine if it is running. It is
// idempotent.
func (b *Broker) maybeStopDaemon(ctx context.Context) {
	if !b.daemonStarted {
		return
	}

	b.daemonStarted = false

	if b.legacy != nil {
		if err := b.legacy.StopDaemon(ctx); err != nil {
			b.log("nsd: error stopping legacy daemon: %s", err)
		}
	}
}

// maybeScheduleDaemonStop arms the cleanup timer only when there is
// genuinely nothing keeping the daemon alive: no legacy requests in
// flight, and no client that has opted into legacy mode via daemon_startup
// (spec.md §4.7, invariant I6).
func (b *Broker) maybeScheduleDaemonStop() {
	if b.legacyClientCount > 0 {
		return
	}

	for _, rec := range b.clients {
		if hasLegacyRequest(rec) {
			return
		}
	}

	b.scheduleStop()
}

// maybeStartMonitoringSockets starts socket monitoring for the managed
// backend if it is not already running. It is idempotent.
func (b *Broker) maybeStartMonitoringSockets() error {
	if b.socketsMonitored || b.sockets == nil {
		return nil
	}

	if err := b.sockets.StartMonitoringSockets(); err != nil {
		return err
	}

	b.socketsMonitored = true
	return nil
}

// maybeStopMonitoringSocketsIfNoActiveRequest stops socket monitoring once
// the transaction index holds no managed request at all (spec.md §4.7,
// invariant I5/I7 — socket monitoring and the existence of managed work are
// kept in lockstep).
func (b *Broker) maybeStopMonitoringSocketsIfNoActiveRequest() {
	if !b.socketsMonitored {
		return
	}

	for _, rec := range b.clients {
		if hasManagedRequest(rec) {
			return
		}
	}

	if b.sockets != nil {
		if err := b.sockets.StopMonitoringSockets(); err != nil {
			b.log("nsd: error stopping socket monitoring: %s", err)
		}
	}

	b.socketsMonitored = false
}
