package nsd

import (
	"context"

	"github.com/jmalloc/nsdbroker/src/nsd/engine"
	"github.com/jmalloc/nsdbroker/src/nsd/names"
)

// dispatchRegisterClient and dispatchUnregisterClient are thin wrappers
// around registry.go's (*Broker).registerClient/unregisterClient so that
// dispatch's switch can reach them without special-casing; they are valid
// in both the Default and Enabled states (spec.md §4.1).
func (b *Broker) dispatchRegisterClient(c *registerClientCmd) {
	b.registerClient(c.Connector, c.Callbacks)
}

func (b *Broker) dispatchUnregisterClient(c *unregisterClientCmd) {
	b.unregisterClient(c.Connector)
}

// dispatchDaemonStartup implements the legacy "daemon_startup" entry point
// (spec.md §4.7): marks the client as a legacy client and ensures the
// daemon is running, independent of whether the client ever issues a
// legacy-routed operation.
func (b *Broker) dispatchDaemonStartup(ctx context.Context, c *daemonStartupCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	if !rec.isLegacyClient {
		rec.isLegacyClient = true
		b.legacyClientCount++
	}

	b.cancelStop()

	if err := b.maybeStartDaemon(ctx); err != nil {
		b.log("nsd: daemon_startup: failed to start legacy daemon: %s", err)
	}
}

// dispatchCleanup handles a delayed daemon-stop timer firing. A stale
// generation means the timer was superseded by a later schedule or
// canceled outright; it is dropped silently (see lifecycle.go).
func (b *Broker) dispatchCleanup(ctx context.Context, c *cleanupCmd) {
	if c.generation != b.cleanupGeneration {
		return
	}

	b.maybeStopDaemon(ctx)
}

// dispatchDiscover implements discover_services (spec.md §4.5): routes to
// the managed discovery manager or the legacy daemon depending on the
// current feature-flag state, allocating a fresh transaction id and
// recording a ClientRequest of the matching tagged variant.
func (b *Broker) dispatchDiscover(ctx context.Context, c *discoverCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	if _, exists := rec.requests[c.ListenerKey]; exists {
		b.replyFailed(c.Connector, c.ListenerKey, ErrAlreadyActive, sinkDiscoveryStart)
		return
	}

	if rec.atCapacity() {
		b.replyFailed(c.Connector, c.ListenerKey, ErrMaxLimitReached, sinkDiscoveryStart)
		return
	}

	canonical, listened, err := canonicalizeAndListen(c.Info.ServiceType)
	if err != nil {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkDiscoveryStart)
		return
	}

	ifaceIdx, ok := b.resolveInterfaceIndex(c.Info.Network)
	if !ok {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkDiscoveryStart)
		return
	}

	id := b.ids.Next()

	if b.useManagedDiscovery() {
		handle, err := b.managedDiscovery.RegisterListener(id, listened, b, engine.SearchOptions{
			Network: c.Info.Network,
		})
		if err != nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkDiscoveryStart)
			return
		}

		if err := b.maybeStartMonitoringSockets(); err != nil {
			b.log("nsd: discover: failed to start socket monitoring: %s", err)
		}

		b.addRequest(c.Connector, rec, c.ListenerKey, &ManagedDiscoveryRequest{
			GlobalID:       id,
			ListenerHandle: handle,
			ServiceType:    listened,
		})
	} else {
		if b.legacy == nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkDiscoveryStart)
			return
		}

		if err := b.maybeStartDaemon(ctx); err != nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkDiscoveryStart)
			return
		}

		if ok := b.legacy.Discover(id, canonical, ifaceIdx); !ok {
			b.legacy.StopOperation(id)
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkDiscoveryStart)
			return
		}

		b.addRequest(c.Connector, rec, c.ListenerKey, &LegacyRequest{
			GlobalID: id,
			OpKind:   LegacyOpDiscover,
		})
	}

	rec.callbacks.OnDiscoveryStarted(c.ListenerKey)
}

// dispatchStopDiscovery implements stop_discovery.
func (b *Broker) dispatchStopDiscovery(c *stopDiscoveryCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	req, ok := b.removeRequest(rec, c.ListenerKey)
	if !ok {
		b.replyFailed(c.Connector, c.ListenerKey, ErrOperationNotRunning, sinkDiscoveryStop)
		return
	}

	b.stopBackendRequest(req)

	switch req.(type) {
	case *LegacyRequest:
		b.maybeScheduleDaemonStop()
	case *ManagedDiscoveryRequest:
		b.maybeStopMonitoringSocketsIfNoActiveRequest()
	}

	rec.callbacks.OnDiscoveryStopped(c.ListenerKey)
}

// dispatchRegister implements register_service: routes to the managed
// advertiser (asynchronous result arrives as managedAdvertiserResultCmd) or
// the legacy daemon (synchronous accept, asynchronous
// LegacyServiceRegistered/LegacyServiceRegistrationFailed callback).
func (b *Broker) dispatchRegister(ctx context.Context, c *registerCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	if _, exists := rec.requests[c.ListenerKey]; exists {
		b.replyFailed(c.Connector, c.ListenerKey, ErrAlreadyActive, sinkRegister)
		return
	}

	if rec.atCapacity() {
		b.replyFailed(c.Connector, c.ListenerKey, ErrMaxLimitReached, sinkRegister)
		return
	}

	canonical, err := names.CanonicalizeServiceType(c.Info.ServiceType)
	if err != nil {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkRegister)
		return
	}

	ifaceIdx, ok := b.resolveInterfaceIndex(c.Info.Network)
	if !ok {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkRegister)
		return
	}

	id := b.ids.Next()
	info := c.Info
	info.ServiceType = canonical
	info.InstanceName = names.TruncateInstanceName(info.InstanceName)

	if b.useManagedAdvertiser() {
		if b.managedAdvertiser == nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkRegister)
			return
		}

		if err := b.managedAdvertiser.AddService(id, info); err != nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkRegister)
			return
		}

		if err := b.maybeStartMonitoringSockets(); err != nil {
			b.log("nsd: register: failed to start socket monitoring: %s", err)
		}

		b.addRequest(c.Connector, rec, c.ListenerKey, &ManagedAdvertiserRequest{GlobalID: id})
	} else {
		if b.legacy == nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkRegister)
			return
		}

		if err := b.maybeStartDaemon(ctx); err != nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkRegister)
			return
		}

		if ok := b.legacy.RegisterService(id, info.InstanceName, canonical, info.Port, info.TXT, ifaceIdx); !ok {
			b.legacy.StopOperation(id)
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkRegister)
			return
		}

		b.addRequest(c.Connector, rec, c.ListenerKey, &LegacyRequest{
			GlobalID: id,
			OpKind:   LegacyOpRegister,
		})
	}

	rec.callbacks.OnRegisterPending(c.ListenerKey)
}

// dispatchUnregister implements unregister_service.
func (b *Broker) dispatchUnregister(c *unregisterCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	req, ok := b.removeRequest(rec, c.ListenerKey)
	if !ok {
		b.replyFailed(c.Connector, c.ListenerKey, ErrOperationNotRunning, sinkUnregister)
		return
	}

	b.stopBackendRequest(req)

	switch req.(type) {
	case *LegacyRequest:
		b.maybeScheduleDaemonStop()
	case *ManagedAdvertiserRequest:
		b.maybeStopMonitoringSocketsIfNoActiveRequest()
	}

	rec.callbacks.OnUnregisterSucceeded(c.ListenerKey)
}

// dispatchManagedAdvertiserResult processes the asynchronous outcome of a
// managed AddService call, correlated back to a listener key via the
// transaction table.
func (b *Broker) dispatchManagedAdvertiserResult(c *managedAdvertiserResultCmd) {
	conn, rec, ok := b.lookupByTransaction(c.GlobalID)
	if !ok {
		return
	}

	key, ok := rec.findListenerKey(c.GlobalID)
	if !ok {
		return
	}

	if c.Err != nil {
		b.removeRequest(rec, key)
		b.maybeStopMonitoringSocketsIfNoActiveRequest()
		rec.callbacks.OnRegisterFailed(key, ErrInternal)
		return
	}

	_ = conn
	rec.callbacks.OnRegisterSucceeded(key, c.Info)
}
