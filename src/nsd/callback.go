package nsd

import (
	"context"

	"github.com/jmalloc/nsdbroker/src/nsd/engine"
	"github.com/jmalloc/nsdbroker/src/nsd/names"
)

// dispatchLegacyEvent processes a single callback from the legacy daemon,
// grounded on dissolve/mdns/server.go's handle() dispatch-by-message-code
// shape, generalized from mDNS packet types to the legacy engine's
// LegacyEventCode taxonomy (spec.md §4.6).
func (b *Broker) dispatchLegacyEvent(ctx context.Context, c *legacyEngineEventCmd) {
	ev := c.Event

	if ev.Code == engine.LegacyEngineFatal {
		b.handleLegacyEngineFatal(ctx)
		return
	}

	conn, rec, ok := b.lookupByTransaction(ev.TransactionID)
	if !ok {
		return
	}

	listenerKey, ok := rec.findListenerKey(ev.TransactionID)
	if !ok {
		return
	}

	switch ev.Code {
	case engine.LegacyServiceFound:
		if ev.NetID == engine.NetIDUnset || ev.NetID == engine.NetIDDummy {
			return
		}
		info, ok := b.legacyFoundInfo(ev)
		if !ok {
			return
		}
		rec.callbacks.OnServiceFound(listenerKey, info)

	case engine.LegacyServiceLost:
		info, ok := b.legacyFoundInfo(ev)
		if !ok {
			return
		}
		rec.callbacks.OnServiceLost(listenerKey, info)
		b.onServiceUpdatedLost(rec, info.InstanceName, info.ServiceType)

	case engine.LegacyServiceRegistered:
		rec.callbacks.OnRegisterSucceeded(listenerKey, ServiceInfo{})

	case engine.LegacyServiceDiscoveryFailed:
		b.failLegacyRequest(rec, listenerKey, sinkDiscoveryStart)

	case engine.LegacyServiceRegistrationFailed:
		b.failLegacyRequest(rec, listenerKey, sinkRegister)

	case engine.LegacyServiceResolutionFailed:
		req, ok := rec.requests[listenerKey]
		if ok {
			if lr, ok := req.(*LegacyRequest); ok && lr.OpKind == LegacyOpResolveViaCallback {
				b.removeRequest(rec, listenerKey)
				b.stopBackendRequest(req)
				b.maybeScheduleDaemonStop()
				rec.callbacks.OnServiceCallbackRegistrationFailed(listenerKey, ErrInternal)
				return
			}
		}
		b.failLegacyRequest(rec, listenerKey, sinkResolve)

	case engine.LegacyServiceResolved:
		_, remainder, err := names.SplitInstanceName(ev.FullName)
		canonical := ev.FullName
		if err == nil {
			canonical = stripDomainSuffix(remainder)
		}
		ifaceIdx, _ := b.resolveInterfaceIndex(NoNetwork)
		b.continueLegacyResolve(ctx, conn, rec, listenerKey, ev.Hostname, canonical, ev.Port, ev.TXT, ifaceIdx)

	case engine.LegacyServiceGetAddrSuccess:
		b.finishLegacyResolve(rec, listenerKey, ev.Address, ev.NetID, true)

	case engine.LegacyServiceGetAddrFailed:
		b.finishLegacyResolve(rec, listenerKey, "", ev.NetID, false)
	}

	_ = conn
}

// legacyFoundInfo builds the ServiceInfo reported with a found/lost event,
// applying spec.md §4.6's network-id translation policy. The SERVICE_FOUND
// discard filter (net_id == NetIDUnset or NetIDDummy) is applied by the
// caller before this is reached; this function only ever needs to
// translate, never discard.
func (b *Broker) legacyFoundInfo(ev engine.LegacyEvent) (ServiceInfo, bool) {
	instance, remainder, err := names.SplitInstanceName(ev.FullName)
	if err != nil {
		return ServiceInfo{}, false
	}

	svcType := stripDomainSuffix(remainder)

	return ServiceInfo{
		InstanceName: instance,
		ServiceType:  svcType,
		Network:      translateNetID(ev.NetID),
	}, true
}

// translateNetID implements spec.md §4.6's three-way network-id translation:
// the unset sentinel and the local-net sentinel both report as NoNetwork to
// the client (LOCAL_NET's distinguishing behavior — recording the reporting
// interface — has no home here since the legacy callback surface carries no
// interface index alongside NetID); any other raw id is wrapped opaquely.
func translateNetID(id uint64) Network {
	switch id {
	case engine.NetIDUnset, engine.NetIDLocal:
		return NoNetwork
	default:
		return Network(id)
	}
}

// failLegacyRequest tears down the request under listenerKey and reports
// the matching failure callback for kind.
func (b *Broker) failLegacyRequest(rec *ClientRecord, listenerKey int, kind sinkKind) {
	req, ok := b.removeRequest(rec, listenerKey)
	if !ok {
		return
	}

	b.stopBackendRequest(req)
	b.maybeScheduleDaemonStop()

	switch kind {
	case sinkDiscoveryStart:
		rec.callbacks.OnDiscoveryStartFailed(listenerKey, ErrInternal)
	case sinkRegister:
		rec.callbacks.OnRegisterFailed(listenerKey, ErrInternal)
	case sinkResolve:
		rec.callbacks.OnResolveFailed(listenerKey, ErrInternal)
	}
}

// handleLegacyEngineFatal processes the daemon-process-died event
// (SPEC_FULL.md, "daemon restart on failure"): the daemon is marked
// stopped and, if there is still legacy work that should keep it alive, it
// is restarted immediately rather than waiting for the next legacy
// operation to trigger maybeStartDaemon.
func (b *Broker) handleLegacyEngineFatal(ctx context.Context) {
	b.daemonStarted = false
	b.log("nsd: legacy daemon died unexpectedly")

	needsRestart := b.legacyClientCount > 0
	if !needsRestart {
		for _, rec := range b.clients {
			if hasLegacyRequest(rec) {
				needsRestart = true
				break
			}
		}
	}

	if !needsRestart {
		return
	}

	if err := b.maybeStartDaemon(ctx); err != nil {
		b.log("nsd: failed to restart legacy daemon: %s", err)
	}
}

// dispatchManagedEvent processes a single callback from the managed
// discovery manager (spec.md §4.6).
func (b *Broker) dispatchManagedEvent(c *managedEngineEventCmd) {
	conn, rec, ok := b.lookupByTransaction(c.Event.ClientID)
	if !ok {
		return
	}

	listenerKey, ok := rec.findListenerKey(c.Event.ClientID)
	if !ok {
		return
	}

	switch c.Code {
	case engine.ManagedServiceFound:
		rec.callbacks.OnServiceFound(listenerKey, c.Event.Info)

	case engine.ManagedServiceLost:
		rec.callbacks.OnServiceLost(listenerKey, c.Event.Info)

	case engine.ManagedResolveSucceeded:
		info := c.Event.Info
		attrs, invalid := parseTXTPairs(txtStrings(info.TXT))
		for _, k := range invalid {
			b.log("nsd: managed resolve: ignoring invalid TXT key %q", k)
		}
		info.TXT = attrs
		info.Hosts = preferIPv4(info.Hosts)

		req, exists := b.removeRequest(rec, listenerKey)
		if exists {
			b.stopBackendRequest(req)
			b.maybeStopMonitoringSocketsIfNoActiveRequest()
		}

		rec.callbacks.OnResolveSucceeded(listenerKey, info)
	}

	_ = conn
}

// preferIPv4 reorders hosts so that any IPv4-looking address sorts first,
// per spec.md §4.6's "prefer IPv4 over IPv6" rule for managed resolve
// results. It does not attempt full address parsing: a dotted-quad
// heuristic is sufficient since hosts here are always literal addresses
// supplied by the managed resolver, never hostnames.
func preferIPv4(hosts []string) []string {
	if len(hosts) < 2 {
		return hosts
	}

	out := make([]string, 0, len(hosts))
	var v6 []string

	for _, h := range hosts {
		if looksLikeIPv4(h) {
			out = append(out, h)
		} else {
			v6 = append(v6, h)
		}
	}

	return append(out, v6...)
}

func looksLikeIPv4(addr string) bool {
	dots := 0
	for _, r := range addr {
		if r == '.' {
			dots++
		}
		if r == ':' {
			return false
		}
	}
	return dots == 3
}

// stripDomainSuffix trims the trailing ".local." domain from a
// type+domain remainder, leaving the bare "_type._proto" service type.
// Legacy daemon callbacks only ever resolve within the ".local." domain
// (spec.md §1), so a fixed suffix is sufficient.
func stripDomainSuffix(remainder string) string {
	const suffix = ".local."
	if len(remainder) > len(suffix) && remainder[len(remainder)-len(suffix):] == suffix {
		return remainder[:len(remainder)-len(suffix)]
	}
	if len(remainder) > 0 && remainder[len(remainder)-1] == '.' {
		return remainder[:len(remainder)-1]
	}
	return remainder
}
