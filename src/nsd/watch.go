package nsd

import (
	"context"
	"strings"

	"github.com/jmalloc/nsdbroker/src/nsd/names"
)

// dispatchRegisterServiceCallback implements the "watch registered
// service" entry point (spec.md §4.5). There is no managed-backend watch
// path: this implementation always uses the legacy two-stage resolve
// pipeline regardless of feature-flag state, differing from every other
// operation's routing rule, and keeps the request alive afterward instead
// of tearing it down on first success so that later updates keep arriving
// as OnServiceUpdated callbacks.
func (b *Broker) dispatchRegisterServiceCallback(ctx context.Context, c *registerServiceCallbackCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	if _, exists := rec.requests[c.ListenerKey]; exists {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkRegisterServiceCallback)
		return
	}

	if rec.atCapacity() {
		b.replyFailed(c.Connector, c.ListenerKey, ErrMaxLimitReached, sinkRegisterServiceCallback)
		return
	}

	canonical, err := names.CanonicalizeServiceType(c.Info.ServiceType)
	if err != nil {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkRegisterServiceCallback)
		return
	}

	instance := names.TruncateInstanceName(c.Info.InstanceName)

	ifaceIdx, ok := b.resolveInterfaceIndex(c.Info.Network)
	if !ok {
		b.replyFailed(c.Connector, c.ListenerKey, ErrBadParameters, sinkRegisterServiceCallback)
		return
	}

	if b.legacy == nil {
		b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkRegisterServiceCallback)
		return
	}

	if err := b.maybeStartDaemon(ctx); err != nil {
		b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkRegisterServiceCallback)
		return
	}

	id := b.ids.Next()

	if ok := b.legacy.Resolve(id, instance, canonical, "local", ifaceIdx); !ok {
		b.replyFailed(c.Connector, c.ListenerKey, ErrInternal, sinkRegisterServiceCallback)
		return
	}

	b.addRequest(c.Connector, rec, c.ListenerKey, &LegacyRequest{
		GlobalID: id,
		OpKind:   LegacyOpResolveViaCallback,
	})

	rec.watchedListenerKey = c.ListenerKey
	rec.watchedServiceType = "." + canonical
	rec.watchedInstanceName = instance
}

// dispatchUnregisterServiceCallback implements the corresponding stop
// entry point.
func (b *Broker) dispatchUnregisterServiceCallback(c *unregisterServiceCallbackCmd) {
	rec, ok := b.clients[c.Connector]
	if !ok {
		return
	}

	req, ok := b.removeRequest(rec, c.ListenerKey)
	if ok {
		b.stopBackendRequest(req)
		if _, isLegacy := req.(*LegacyRequest); isLegacy {
			b.maybeScheduleDaemonStop()
		}
	}

	if rec.watchedListenerKey == c.ListenerKey {
		rec.watchedScratch = nil
		rec.watchedServiceType = ""
		rec.watchedInstanceName = ""
	}

	rec.callbacks.OnServiceCallbackUnregistered(c.ListenerKey)
}

// onServiceUpdatedLost correlates a legacy SERVICE_LOST event against any
// live watch registration by the (instance_name, type) pair, the
// loss-matching rule spec.md §4.5 describes for the watch-updates mode:
// the legacy engine reports loss by name/type, not by transaction id,
// because the original resolve transaction already completed.
// NsdService.java's maybeNotifyRegisteredServiceLost checks both the
// registered service name and type; matching on type alone would fire a
// loss notification for an unrelated instance of the same service type.
func (b *Broker) onServiceUpdatedLost(rec *ClientRecord, instanceName, serviceType string) {
	if rec.watchedServiceType == "" {
		return
	}

	if !strings.EqualFold(rec.watchedInstanceName, instanceName) {
		return
	}

	if !strings.EqualFold(rec.watchedServiceType, "."+serviceType) && !strings.EqualFold(rec.watchedServiceType, serviceType) {
		return
	}

	rec.callbacks.OnServiceUpdatedLost(rec.watchedListenerKey)
}
