// Package engine defines the collaborator interfaces the broker core
// consumes but never implements: the legacy mDNS daemon, the managed
// discovery/advertiser stack, the multi-network socket provider, the
// network-interface resolver, the feature-flag source, and the IPC-facing
// connector/callback-sink pair. Concrete implementations live outside this
// module (spec.md §1, "out of scope — external collaborators"); this
// package only carries the narrow interfaces the broker dispatches through,
// the same role dissolve/mdns/responder/answerer.go's Answerer interface
// plays for the teacher's responder.
package engine

import "context"

// IfaceAny is the sentinel interface index meaning "any interface" or
// "no usable interface was found".
const IfaceAny = 0

// Network is an opaque, broker-global handle to a network, as supplied by
// whatever network-management component owns that concept on the host.
type Network uint64

// NoNetwork is the zero value meaning "no specific network requested".
const NoNetwork Network = 0

// NetIDUnset is the raw legacy-engine network id meaning "this event could
// not be attributed to any network" (spec.md §4.6). It gates both the
// SERVICE_FOUND discard filter and GetAddrSuccess's validity check,
// mirroring NsdService.java's NETID_UNSET.
const NetIDUnset uint64 = 0

// NetIDLocal is the raw legacy-engine network id for the device's own
// local-only announcements. It translates to NoNetwork like NetIDUnset, but
// unlike NetIDUnset it is not a discard condition for SERVICE_FOUND: the
// service is real, it simply isn't attributable to a specific managed
// network (spec.md §4.6).
const NetIDLocal uint64 = ^uint64(0) - 1

// NetIDDummy is the raw legacy-engine network id reserved for synthetic
// announcements that must never reach a client as SERVICE_FOUND (spec.md
// §4.6), distinct from NetIDUnset so a future legacy engine can report
// "suppress this" without colliding with "no network".
const NetIDDummy uint64 = ^uint64(0)

// Connector is an opaque per-client handle. It is comparable (suitable as a
// map key) and supports death notification: when the client's IPC peer
// dies, the connector invokes the registered callback exactly once.
type Connector interface {
	// NotifyOnDeath registers fn to be invoked when the peer dies. It is
	// called at most once.
	NotifyOnDeath(fn func())
}

// CallbackSink delivers asynchronous replies to a single client. Every
// method corresponds to one row of spec.md §6's callback column. The
// broker calls these methods synchronously on its event-loop goroutine;
// they return nothing, so a failure inside a sink is never reported back
// to the broker.
type CallbackSink interface {
	OnDiscoveryStarted(listenerKey int)
	OnDiscoveryStartFailed(listenerKey int, code ErrorCode)
	OnDiscoveryStopped(listenerKey int)
	OnDiscoveryStopFailed(listenerKey int, code ErrorCode)
	OnServiceFound(listenerKey int, info ServiceInfo)
	OnServiceLost(listenerKey int, info ServiceInfo)

	OnRegisterPending(listenerKey int)
	OnRegisterFailed(listenerKey int, code ErrorCode)
	OnRegisterSucceeded(listenerKey int, info ServiceInfo)
	OnUnregisterSucceeded(listenerKey int)
	OnUnregisterFailed(listenerKey int, code ErrorCode)

	OnResolvePending(listenerKey int)
	OnResolveFailed(listenerKey int, code ErrorCode)
	OnResolveSucceeded(listenerKey int, info ServiceInfo)
	OnStopResolutionSucceeded(listenerKey int)
	OnStopResolutionFailed(listenerKey int, code ErrorCode)

	OnServiceCallbackRegistrationFailed(listenerKey int, code ErrorCode)
	OnServiceUpdated(listenerKey int, info ServiceInfo)
	OnServiceUpdatedLost(listenerKey int)
	OnServiceCallbackUnregistered(listenerKey int)
}

// ErrorCode is declared here (rather than in the core package) so that this
// package has no dependency on the broker's internal state; nsd.ErrorCode
// in src/nsd/errors.go is an alias of this type.
type ErrorCode int

const (
	// ErrInternal is the catch-all failure code.
	ErrInternal ErrorCode = iota
	// ErrMaxLimitReached is returned when a client's request table is full.
	ErrMaxLimitReached
	// ErrAlreadyActive is returned when a conflicting operation is already
	// in progress for the same listener key.
	ErrAlreadyActive
	// ErrBadParameters is returned when the request arguments are invalid.
	ErrBadParameters
	// ErrOperationNotRunning is returned by a stop-op when there is nothing
	// to stop.
	ErrOperationNotRunning
)

// ServiceInfo is the service description shared across the collaborator
// boundary; nsd.ServiceInfo in src/nsd/service.go is an alias of it. It is
// declared here to avoid an import cycle between engine and the core
// package (the core package depends on engine, not vice-versa).
type ServiceInfo struct {
	InstanceName string
	ServiceType  string
	Port         uint16
	TXT          map[string][]byte
	Network      Network
	IfaceIndex   int
	Hosts        []string
}

// FeatureFlags is the read-only, per-operation configuration source for
// backend routing (spec.md §4.5, §6).
type FeatureFlags interface {
	ManagedDiscoveryEnabled() bool
	ManagedAdvertiserEnabled() bool
}

// InterfaceResolver maps a network handle to an OS interface index.
type InterfaceResolver interface {
	// ResolveInterfaceIndex returns the interface index to use for n, or
	// IfaceAny if none could be determined (spec.md §9, "open questions").
	ResolveInterfaceIndex(n Network) int
}

// SocketProvider starts and stops multi-network socket monitoring for the
// managed backend.
type SocketProvider interface {
	StartMonitoringSockets() error
	StopMonitoringSockets() error
}

// LegacyEventCode enumerates the legacy daemon's callback codes.
type LegacyEventCode int

const (
	LegacyServiceFound LegacyEventCode = iota
	LegacyServiceLost
	LegacyServiceRegistered
	LegacyServiceDiscoveryFailed
	LegacyServiceRegistrationFailed
	LegacyServiceResolutionFailed
	LegacyServiceResolved
	LegacyServiceGetAddrSuccess
	LegacyServiceGetAddrFailed
	// LegacyEngineFatal reports that the daemon process itself died; it is
	// not tied to any single transaction id (SPEC_FULL.md, "daemon restart
	// on failure").
	LegacyEngineFatal
)

// LegacyEvent is a single callback from the legacy daemon.
type LegacyEvent struct {
	Code          LegacyEventCode
	TransactionID uint32

	// FullName is the DNS-escaped full name reported with
	// LegacyServiceFound/LegacyServiceLost/LegacyServiceResolved.
	FullName string

	// NetID is the raw, engine-specific network identifier reported with
	// LegacyServiceFound and LegacyServiceGetAddrSuccess. It requires
	// translation via the network-visibility/translation policy in
	// spec.md §4.6 before use.
	NetID uint64

	// Hostname is reported with LegacyServiceResolved.
	Hostname string
	// Port and TXT are reported with LegacyServiceResolved.
	Port uint16
	TXT  map[string][]byte

	// Address is reported with LegacyServiceGetAddrSuccess.
	Address string
}

// LegacyEventListener receives callbacks from the legacy engine. The
// broker's implementation must not block; it enqueues a LegacyEngineEvent
// message and returns.
type LegacyEventListener interface {
	HandleLegacyEvent(LegacyEvent)
}

// LegacyEngine is the out-of-process native mDNS daemon, controlled via a
// manager object (spec.md §6).
type LegacyEngine interface {
	RegisterEventListener(LegacyEventListener)
	StartDaemon(ctx context.Context) error
	StopDaemon(ctx context.Context) error

	RegisterService(id uint32, name, svcType string, port uint16, txt map[string][]byte, ifaceIdx int) bool
	Discover(id uint32, svcType string, ifaceIdx int) bool
	Resolve(id uint32, name, svcType, domain string, ifaceIdx int) bool
	GetServiceAddress(id uint32, hostname string, ifaceIdx int) bool
	StopOperation(id uint32)
}

// ManagedServiceEvent is the payload of a managed-backend callback.
type ManagedServiceEvent struct {
	ClientID      uint32
	RequestedType string
	Info          ServiceInfo
}

// ManagedEventCode enumerates the managed discovery manager's callback
// codes.
type ManagedEventCode int

const (
	ManagedServiceFound ManagedEventCode = iota
	ManagedServiceLost
	ManagedResolveSucceeded
)

// ManagedListener is implemented by the broker and invoked by the managed
// discovery manager. As with LegacyEventListener, implementations must not
// block; they enqueue a ManagedEngineEvent message.
type ManagedListener interface {
	HandleManagedEvent(code ManagedEventCode, event ManagedServiceEvent)
}

// ListenerHandle identifies a listener previously registered with the
// managed discovery manager, opaque to the broker beyond equality.
type ListenerHandle interface{}

// SearchOptions parameterizes a managed discovery/resolve registration.
type SearchOptions struct {
	Network             Network
	PassiveMode         bool
	ResolveInstanceName string // only set for resolve registrations
}

// ManagedDiscoveryManager is the in-process discovery half of the managed
// backend (spec.md §6).
type ManagedDiscoveryManager interface {
	// RegisterListener starts a discovery or resolve registration. id is
	// the broker's transaction id for this request; the manager must echo
	// it back as ManagedServiceEvent.ClientID on every callback so the
	// broker can correlate the event to the request that started it,
	// mirroring the way LegacyEngine.Discover/Resolve are given an id up
	// front rather than being asked to mint one.
	RegisterListener(id uint32, serviceType string, listener ManagedListener, opts SearchOptions) (ListenerHandle, error)
	UnregisterListener(serviceType string, handle ListenerHandle) error
}

// ManagedAdvertiserCallback receives asynchronous results from the managed
// advertiser.
type ManagedAdvertiserCallback interface {
	OnRegisterSucceeded(id uint32, info ServiceInfo)
	OnRegisterFailed(id uint32, err error)
}

// ManagedAdvertiser is the in-process advertisement half of the managed
// backend (spec.md §6).
type ManagedAdvertiser interface {
	RegisterCallback(ManagedAdvertiserCallback)
	AddService(id uint32, info ServiceInfo) error
	RemoveService(id uint32) error
}
