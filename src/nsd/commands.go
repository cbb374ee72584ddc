package nsd

import "github.com/jmalloc/nsdbroker/src/nsd/engine"

// command is a unit of work processed by the event loop (spec.md §4.1).
// Grounded on dissolve/mdns/responder/responder.go's command interface,
// generalized from one implementation per wire-message kind to the full
// closed set of client operations, engine callbacks, and internal ticks.
type command interface {
	isCommand()
}

type registerClientCmd struct {
	Connector engine.Connector
	Callbacks engine.CallbackSink
}

func (*registerClientCmd) isCommand() {}

type unregisterClientCmd struct {
	Connector engine.Connector
}

func (*unregisterClientCmd) isCommand() {}

type discoverCmd struct {
	Connector   engine.Connector
	ListenerKey int
	Info        ServiceInfo
}

func (*discoverCmd) isCommand() {}

type stopDiscoveryCmd struct {
	Connector   engine.Connector
	ListenerKey int
}

func (*stopDiscoveryCmd) isCommand() {}

type registerCmd struct {
	Connector   engine.Connector
	ListenerKey int
	Info        ServiceInfo
}

func (*registerCmd) isCommand() {}

type unregisterCmd struct {
	Connector   engine.Connector
	ListenerKey int
}

func (*unregisterCmd) isCommand() {}

type resolveCmd struct {
	Connector   engine.Connector
	ListenerKey int
	Info        ServiceInfo
}

func (*resolveCmd) isCommand() {}

type stopResolutionCmd struct {
	Connector   engine.Connector
	ListenerKey int
}

func (*stopResolutionCmd) isCommand() {}

type registerServiceCallbackCmd struct {
	Connector   engine.Connector
	ListenerKey int
	Info        ServiceInfo
}

func (*registerServiceCallbackCmd) isCommand() {}

type unregisterServiceCallbackCmd struct {
	Connector   engine.Connector
	ListenerKey int
}

func (*unregisterServiceCallbackCmd) isCommand() {}

type daemonStartupCmd struct {
	Connector engine.Connector
}

func (*daemonStartupCmd) isCommand() {}

type legacyEngineEventCmd struct {
	Event engine.LegacyEvent
}

func (*legacyEngineEventCmd) isCommand() {}

type managedEngineEventCmd struct {
	Code  engine.ManagedEventCode
	Event engine.ManagedServiceEvent
}

func (*managedEngineEventCmd) isCommand() {}

// setEnabledCmd drives the Default/Enabled transition described in spec.md
// §4.1. There is no client-facing operation that triggers it (enablement
// broadcast is an external collaborator's concern per §1); it exists so an
// embedder can model a fatal-error or policy-driven disable the way the
// source's state-machine framework allowed, per the open question in §9.
type setEnabledCmd struct {
	Enabled bool
}

func (*setEnabledCmd) isCommand() {}

// managedAdvertiserResultCmd carries the asynchronous outcome of an
// AddService call made to the managed advertiser back onto the loop
// (spec.md §4.5, register via the managed backend).
type managedAdvertiserResultCmd struct {
	GlobalID uint32
	Info     ServiceInfo
	Err      error
}

func (*managedAdvertiserResultCmd) isCommand() {}
