package nsd

import (
	"github.com/jmalloc/nsdbroker/src/nsd/engine"
	"github.com/jmalloc/nsdbroker/src/nsd/names"
)

// stopBackendRequest tells the backend that created req to tear it down.
// It branches on req's concrete type, never on the current feature-flag
// state, preserving the backend-preservation invariant (spec.md §4.5, P4):
// a flag flip mid-flight cannot orphan a request against the wrong
// backend.
func (b *Broker) stopBackendRequest(req ClientRequest) {
	switch r := req.(type) {
	case *LegacyRequest:
		if b.legacy != nil {
			b.legacy.StopOperation(r.GlobalID)
		}

	case *ManagedDiscoveryRequest:
		if b.managedDiscovery != nil {
			if err := b.managedDiscovery.UnregisterListener(r.ServiceType, r.ListenerHandle); err != nil {
				b.log("nsd: error unregistering managed listener for %q: %s", r.ServiceType, err)
			}
		}

	case *ManagedAdvertiserRequest:
		if b.managedAdvertiser != nil {
			if err := b.managedAdvertiser.RemoveService(r.GlobalID); err != nil {
				b.log("nsd: error removing managed advertisement %d: %s", r.GlobalID, err)
			}
		}
	}
}

// canonicalizeAndListen validates and canonicalizes a client-supplied
// service type and derives the ".local"-qualified name registered with the
// managed discovery manager (spec.md §4.5).
func canonicalizeAndListen(svcType string) (canonical, listened string, err error) {
	canonical, err = names.CanonicalizeServiceType(svcType)
	if err != nil {
		return "", "", err
	}

	return canonical, canonical + ".local", nil
}

// resolveInterfaceIndex implements spec.md §4.5's "pick a network
// interface" rule: no network requested means IFACE_ANY; a requested
// network that the resolver can't place is a failure (the network was torn
// down or unknown), not a silent fallback to IFACE_ANY.
func (b *Broker) resolveInterfaceIndex(net Network) (idx int, ok bool) {
	if net == NoNetwork {
		return engine.IfaceAny, true
	}

	if b.ifaces == nil {
		return engine.IfaceAny, false
	}

	idx = b.ifaces.ResolveInterfaceIndex(net)
	return idx, idx != engine.IfaceAny
}

// useManagedDiscovery reports whether discover/resolve should be routed to
// the managed backend for the current feature-flag state.
func (b *Broker) useManagedDiscovery() bool {
	return b.flags != nil && b.flags.ManagedDiscoveryEnabled()
}

// useManagedAdvertiser reports whether register should be routed to the
// managed backend for the current feature-flag state.
func (b *Broker) useManagedAdvertiser() bool {
	return b.flags != nil && b.flags.ManagedAdvertiserEnabled()
}
