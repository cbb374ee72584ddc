package nsd

import "github.com/jmalloc/nsdbroker/src/nsd/engine"

// maxRequestsPerClient is MAX from spec.md §3/§6.
const maxRequestsPerClient = 10

// ClientRecord holds everything the broker tracks for a single connected
// client (spec.md §3). It is only ever touched from the event loop
// goroutine, mirroring dissolve/mdns/responder.Responder's single-writer
// discipline — no mutex is needed (contrast with dissolve/dnssd.Answerer,
// which does need one because it is called from multiple transport
// goroutines; see DESIGN.md).
type ClientRecord struct {
	callbacks engine.CallbackSink

	// requests maps the client-chosen listener key to the request it
	// started.
	requests map[int]ClientRequest

	// isLegacyClient is true iff this client has invoked the legacy
	// daemon-startup entry point (spec.md §3, §4.7).
	isLegacyClient bool

	// resolvedScratch holds the in-flight ServiceInfo for a two-stage
	// legacy resolve (spec.md §4.5, §9). At most one may be active per
	// client.
	resolvedScratch *ServiceInfo
	// resolvedListenerKey is the listener key resolvedScratch belongs to.
	resolvedListenerKey int

	// watchedScratch and watchedListenerKey track the single active
	// RegisterServiceCallback ("watch updates") registration, if any
	// (spec.md §3 invariant I7).
	watchedScratch      *ServiceInfo
	watchedListenerKey  int
	watchedServiceType  string // canonicalized, with leading dot, for loss matching
	watchedInstanceName string // for loss matching: spec.md §4.5 matches on the (instance_name, type) pair
}

func newClientRecord(sink engine.CallbackSink) *ClientRecord {
	return &ClientRecord{
		callbacks: sink,
		requests:  map[int]ClientRequest{},
	}
}

// atCapacity reports whether the client already holds MAX requests
// (invariant I3).
func (c *ClientRecord) atCapacity() bool {
	return len(c.requests) >= maxRequestsPerClient
}

// findListenerKey performs the linear scan (N <= MAX) spec.md §4.6 uses to
// recover a listener key from a transaction id when an engine callback
// arrives.
func (c *ClientRecord) findListenerKey(globalID uint32) (int, bool) {
	for key, req := range c.requests {
		if req.globalID() == globalID {
			return key, true
		}
	}
	return 0, false
}
