package nsd

import (
	"context"
	"net"

	"github.com/jmalloc/nsdbroker/src/nsd/engine"
	"github.com/jmalloc/nsdbroker/src/nsd/names"
)

// dispatchResolve implements resolve_service (spec.md §4.5). The managed
// path is a single registration with the discovery manager, correlated by
// the transaction id the manager echoes back as ClientID; the legacy path is the two-stage pipeline
// (ResolvePending -> AddrPending -> Done) described in spec.md §9, which
// needs a scratch slot on the ClientRecord because the legacy daemon
// reports the hostname before the address and the broker must remember
// which listener key a bare transaction id belongs to across that gap.
func (b *Broker) dispatchResolve(ctx context.Context, c *resolveCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	if _, exists := rec.requests[c.ListenerKey]; exists {
		b.replyFailed(c.Connector, c.ListenerKey, ErrAlreadyActive, sinkResolve)
		return
	}

	if rec.atCapacity() {
		b.replyFailed(c.Connector, c.ListenerKey, ErrMaxLimitReached, sinkResolve)
		return
	}

	canonical, listened, err := canonicalizeAndListen(c.Info.ServiceType)
	if err != nil {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkResolve)
		return
	}

	instance := names.TruncateInstanceName(c.Info.InstanceName)

	ifaceIdx, ok := b.resolveInterfaceIndex(c.Info.Network)
	if !ok {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkResolve)
		return
	}

	id := b.ids.Next()

	if b.useManagedDiscovery() {
		if b.managedDiscovery == nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkResolve)
			return
		}

		handle, err := b.managedDiscovery.RegisterListener(id, listened, b, engine.SearchOptions{
			Network:             c.Info.Network,
			ResolveInstanceName: instance,
		})
		if err != nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkResolve)
			return
		}

		if err := b.maybeStartMonitoringSockets(); err != nil {
			b.log("nsd: resolve: failed to start socket monitoring: %s", err)
		}

		b.addRequest(c.Connector, rec, c.ListenerKey, &ManagedDiscoveryRequest{
			GlobalID:       id,
			ListenerHandle: handle,
			ServiceType:    listened,
		})
	} else {
		if b.legacy == nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkResolve)
			return
		}

		// Only one legacy resolve per client, since it owns the client's
		// single resolvedScratch slot.
		for _, r := range rec.requests {
			if lr, ok := r.(*LegacyRequest); ok && lr.OpKind == LegacyOpResolve {
				b.replyFailed(c.Connector, c.ListenerKey, ErrAlreadyActive, sinkResolve)
				return
			}
		}

		if err := b.maybeStartDaemon(ctx); err != nil {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkResolve)
			return
		}

		if ok := b.legacy.Resolve(id, instance, canonical, "local", ifaceIdx); !ok {
			b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkResolve)
			return
		}

		b.addRequest(c.Connector, rec, c.ListenerKey, &LegacyRequest{
			GlobalID: id,
			OpKind:   LegacyOpResolve,
		})
	}

	rec.callbacks.OnResolvePending(c.ListenerKey)
}

// dispatchStopResolution implements stop_resolve. There is no
// ResolveStopFailed/Succeeded asymmetry across backends to special-case:
// both simply tear down the request under the listener key, per the
// backend-preservation invariant in router.go.
func (b *Broker) dispatchStopResolution(c *stopResolutionCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	req, ok := b.removeRequest(rec, c.ListenerKey)
	if !ok {
		b.replyFailed(c.Connector, c.ListenerKey, ErrOperationNotRunning, sinkStopResolution)
		return
	}

	b.stopBackendRequest(req)

	if rec.resolvedListenerKey == c.ListenerKey {
		rec.resolvedScratch = nil
	}

	switch req.(type) {
	case *LegacyRequest:
		b.maybeScheduleDaemonStop()
	case *ManagedDiscoveryRequest:
		b.maybeStopMonitoringSocketsIfNoActiveRequest()
	}

	rec.callbacks.OnStopResolutionSucceeded(c.ListenerKey)
}

// continueLegacyResolve advances the two-stage legacy pipeline on a
// LegacyServiceResolved event: it stashes the partial ServiceInfo and
// issues the GetServiceAddress call that will eventually complete the
// resolve via a GetAddrSuccess/GetAddrFailed event (spec.md §9).
func (b *Broker) continueLegacyResolve(ctx context.Context, conn engine.Connector, rec *ClientRecord, listenerKey int, hostname, canonicalType string, port uint16, txt map[string][]byte, ifaceIdx int) {
	attrs, invalid := parseTXTPairs(txtStrings(txt))
	for _, k := range invalid {
		b.log("nsd: resolve: ignoring invalid TXT key %q", k)
	}

	info := ServiceInfo{
		ServiceType: canonicalType,
		Port:        port,
		TXT:         attrs,
		Hosts:       []string{hostname},
	}

	req, ok := rec.requests[listenerKey]
	if !ok {
		return
	}

	lr, ok := req.(*LegacyRequest)
	if !ok {
		return
	}

	if lr.OpKind == LegacyOpResolveViaCallback {
		rec.watchedScratch = &info
		rec.watchedListenerKey = listenerKey
	} else {
		rec.resolvedScratch = &info
		rec.resolvedListenerKey = listenerKey
	}

	// The resolve transaction ends here; the address lookup is a second,
	// separately-numbered transaction (NsdService.java's onResolveEvent:
	// "final int id2 = getUniqueId(); if (getAddrInfo(id2, ...))"), not a
	// continuation of lr.GlobalID.
	b.removeRequest(rec, listenerKey)
	b.stopBackendRequest(req)

	id2 := b.ids.Next()

	if ok := b.legacy.GetServiceAddress(id2, hostname, ifaceIdx); !ok {
		b.legacy.StopOperation(id2)
		rec.resolvedScratch = nil
		rec.watchedScratch = nil
		b.maybeScheduleDaemonStop()

		if lr.OpKind == LegacyOpResolveViaCallback {
			rec.callbacks.OnServiceCallbackRegistrationFailed(listenerKey, ErrInternal)
		} else {
			rec.callbacks.OnResolveFailed(listenerKey, ErrInternal)
		}
		return
	}

	b.addRequest(conn, rec, listenerKey, &LegacyRequest{
		GlobalID: id2,
		OpKind:   lr.OpKind,
	})
}

// finishLegacyResolve completes the two-stage pipeline on a
// LegacyServiceGetAddrSuccess/Failed event. A plain resolve_service request
// is torn down either way (success or failure ends the operation); a watch
// registration survives a successful update and is only torn down on
// failure, matching the "stays alive across updates" contract of
// RegisterServiceCallback (spec.md §9).
//
// A reported success is only honored if netID is meaningful and address
// actually parses; NsdService.java's GetAddrInfo callback gates success the
// same way (netId != NETID_UNSET && serviceHost != null) and otherwise
// stops the lookup and fails it.
func (b *Broker) finishLegacyResolve(rec *ClientRecord, listenerKey int, address string, netID uint64, ok bool) {
	if ok && (netID == engine.NetIDUnset || net.ParseIP(address) == nil) {
		ok = false
	}

	isWatch := rec.watchedListenerKey == listenerKey && rec.watchedScratch != nil

	var info ServiceInfo
	switch {
	case isWatch:
		info = *rec.watchedScratch
		if !ok {
			rec.watchedScratch = nil
		}
	case rec.resolvedListenerKey == listenerKey && rec.resolvedScratch != nil:
		info = *rec.resolvedScratch
		rec.resolvedScratch = nil
	default:
		return
	}

	if !ok || !isWatch {
		req, exists := b.removeRequest(rec, listenerKey)
		if exists {
			b.stopBackendRequest(req)
			if _, isLegacy := req.(*LegacyRequest); isLegacy {
				b.maybeScheduleDaemonStop()
			}
		}
	}

	if !ok {
		if isWatch {
			rec.callbacks.OnServiceCallbackRegistrationFailed(listenerKey, ErrInternal)
		} else {
			rec.callbacks.OnResolveFailed(listenerKey, ErrInternal)
		}
		return
	}

	info.Hosts = []string{address}
	info.Network = translateNetID(netID)

	if isWatch {
		rec.callbacks.OnServiceUpdated(listenerKey, info)
	} else {
		rec.callbacks.OnResolveSucceeded(listenerKey, info)
	}
}

// txtStrings renders a raw TXT attribute map back into "key=value" strings
// so it can flow through the same parseTXTPairs path used for managed
// events, keeping invalid-key handling in one place.
func txtStrings(attrs map[string][]byte) []string {
	return txtPairs(attrs)
}
