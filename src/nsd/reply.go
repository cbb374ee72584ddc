package nsd

import "github.com/jmalloc/nsdbroker/src/nsd/engine"

// sinkKind identifies which CallbackSink method a generic failure reply
// should invoke. It exists so that Default-state rejection and other
// shared failure paths do not need one call site per operation (spec.md
// §4.1, §7).
type sinkKind int

const (
	sinkDiscoveryStart sinkKind = iota
	sinkDiscoveryStop
	sinkRegister
	sinkUnregister
	sinkResolve
	sinkStopResolution
	sinkRegisterServiceCallback
	sinkUnregisterServiceCallback
)

// replyFailed looks up conn's callback sink and reports a synchronous
// failure for kind, logging (rather than crashing the loop) if conn is not
// currently registered — this happens when a command was posted just
// before the client's unregistration was processed.
func (b *Broker) replyFailed(conn engine.Connector, listenerKey int, code ErrorCode, kind sinkKind) {
	rec, ok := b.clients[conn]
	if !ok {
		b.log("nsd: dropping failure reply for unknown client, listener key %d", listenerKey)
		return
	}

	switch kind {
	case sinkDiscoveryStart:
		rec.callbacks.OnDiscoveryStartFailed(listenerKey, code)
	case sinkDiscoveryStop:
		rec.callbacks.OnDiscoveryStopFailed(listenerKey, code)
	case sinkRegister:
		rec.callbacks.OnRegisterFailed(listenerKey, code)
	case sinkUnregister:
		rec.callbacks.OnUnregisterFailed(listenerKey, code)
	case sinkResolve:
		rec.callbacks.OnResolveFailed(listenerKey, code)
	case sinkStopResolution:
		rec.callbacks.OnStopResolutionFailed(listenerKey, code)
	case sinkRegisterServiceCallback:
		rec.callbacks.OnServiceCallbackRegistrationFailed(listenerKey, code)
	case sinkUnregisterServiceCallback:
		// spec.md §4.6 has no dedicated failure callback for unregistering a
		// watch; the closest analogue is reporting it as if the callback
		// had already been torn down.
		rec.callbacks.OnServiceCallbackUnregistered(listenerKey)
	}
}
