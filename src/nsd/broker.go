// Package nsd implements the core of a Network Service Discovery broker: a
// single-threaded event loop that multiplexes many clients onto a legacy
// mDNS daemon and a newer managed mDNS engine (spec.md §1). The mDNS wire
// protocol itself is out of scope; this package only consumes the
// collaborator interfaces in src/nsd/engine.
package nsd

import (
	"context"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"golang.org/x/sync/errgroup"

	"github.com/jmalloc/nsdbroker/src/nsd/engine"
	"github.com/jmalloc/nsdbroker/src/nsd/idalloc"
)

// DefaultCleanupDelay is the default delay between the last legacy request
// being removed and the daemon actually being stopped (spec.md §6).
const DefaultCleanupDelay = 10 * time.Second

// Config carries the broker's tunable limits (spec.md §6).
type Config struct {
	// CleanupDelay is the daemon-stop delay. Zero means DefaultCleanupDelay.
	CleanupDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.CleanupDelay == 0 {
		c.CleanupDelay = DefaultCleanupDelay
	}
}

// BrokerOption configures a Broker constructed by New, grounded on
// dissolve/mdns.ServerOption and dissolve/mdns/responder.Option's
// functional-option pattern.
type BrokerOption func(*Broker)

// WithLogger sets the logger used by the broker. The default is
// logging.DefaultLogger, matching dissolve/mdns/responder.New's default.
func WithLogger(l logging.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// WithCleanupDelay overrides DefaultCleanupDelay.
func WithCleanupDelay(d time.Duration) BrokerOption {
	return func(b *Broker) { b.config.CleanupDelay = d }
}

// WithLegacyEngine supplies the legacy daemon collaborator.
func WithLegacyEngine(e engine.LegacyEngine) BrokerOption {
	return func(b *Broker) { b.legacy = e }
}

// WithManagedDiscoveryManager supplies the managed discovery collaborator.
func WithManagedDiscoveryManager(m engine.ManagedDiscoveryManager) BrokerOption {
	return func(b *Broker) { b.managedDiscovery = m }
}

// WithManagedAdvertiser supplies the managed advertiser collaborator.
func WithManagedAdvertiser(a engine.ManagedAdvertiser) BrokerOption {
	return func(b *Broker) {
		b.managedAdvertiser = a
		if a != nil {
			a.RegisterCallback(b)
		}
	}
}

// WithSocketProvider supplies the multi-network socket monitor.
func WithSocketProvider(s engine.SocketProvider) BrokerOption {
	return func(b *Broker) { b.sockets = s }
}

// WithInterfaceResolver supplies the network-to-interface-index resolver.
func WithInterfaceResolver(r engine.InterfaceResolver) BrokerOption {
	return func(b *Broker) { b.ifaces = r }
}

// WithFeatureFlags supplies the per-operation backend-routing flag source.
func WithFeatureFlags(f engine.FeatureFlags) BrokerOption {
	return func(b *Broker) { b.flags = f }
}

// brokerState is one of the two states from spec.md §4.1.
type brokerState int

const (
	stateEnabled brokerState = iota
	stateDefault
)

// Broker is the NSD broker's event loop and all of the state in spec.md
// §2-§3. It is the sole writer of every field below; every external input
// is converted to a command and handed to post, which is the only method
// safe to call from outside the loop goroutine started by Run.
//
// Grounded on dissolve/mdns/responder.Responder: a single command channel
// drained by one goroutine, with delayed re-entry implemented by posting a
// command from a detached timer rather than mutating state from outside
// the loop.
type Broker struct {
	config Config
	logger logging.Logger

	legacy            engine.LegacyEngine
	managedDiscovery  engine.ManagedDiscoveryManager
	managedAdvertiser engine.ManagedAdvertiser
	sockets           engine.SocketProvider
	ifaces            engine.InterfaceResolver
	flags             engine.FeatureFlags

	commands chan command
	done     chan struct{}

	state brokerState

	ids idalloc.Allocator

	clients      map[engine.Connector]*ClientRecord
	transactions map[uint32]engine.Connector

	daemonStarted     bool
	socketsMonitored  bool
	legacyClientCount int
	cleanupGeneration uint64
}

// New constructs a Broker. It does not start the event loop; call Run.
func New(opts ...BrokerOption) *Broker {
	b := &Broker{
		commands:     make(chan command, 64),
		done:         make(chan struct{}),
		state:        stateEnabled,
		clients:      map[engine.Connector]*ClientRecord{},
		transactions: map[uint32]engine.Connector{},
	}

	for _, opt := range opts {
		opt(b)
	}

	b.config.applyDefaults()
	if b.logger == nil {
		b.logger = logging.DefaultLogger
	}

	return b
}

// log formats and writes a message through the broker's logger, grounded
// on dissolve/mdns/transport/logging.go's use of the package-level
// logging.Log(logger, format, args...) helper rather than a method call,
// since logging.Logger itself only takes a pre-formatted string.
func (b *Broker) log(format string, args ...interface{}) {
	logging.Log(b.logger, format, args...)
}

// post enqueues a command for processing by the loop goroutine. It is safe
// to call from any goroutine, including engine callbacks and the death
// notifier; it is the only way collaborators may influence broker state
// (spec.md §4.1, §5).
func (b *Broker) post(c command) {
	select {
	case b.commands <- c:
	case <-b.done:
	}
}

// Run drains the command queue until ctx is canceled or a fatal error
// occurs. Exactly one goroutine should call Run.
func (b *Broker) Run(ctx context.Context) error {
	defer close(b.done)

	if b.state == stateEnabled {
		b.log("nsd: enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-b.commands:
				b.dispatch(ctx, c)
			}
		}
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Post-construction client-facing API. Each method converts its arguments
// into a command and posts it; none of them block on broker state.

// RegisterClient registers conn with the broker, installing sink as its
// callback target.
func (b *Broker) RegisterClient(conn engine.Connector, sink engine.CallbackSink) {
	b.post(&registerClientCmd{Connector: conn, Callbacks: sink})
}

// UnregisterClient removes conn and expunges all of its requests.
func (b *Broker) UnregisterClient(conn engine.Connector) {
	b.post(&unregisterClientCmd{Connector: conn})
}

// Discover starts a discover_services operation (spec.md §6).
func (b *Broker) Discover(conn engine.Connector, listenerKey int, info ServiceInfo) {
	b.post(&discoverCmd{Connector: conn, ListenerKey: listenerKey, Info: info})
}

// StopDiscovery stops a previously-started discover_services operation.
func (b *Broker) StopDiscovery(conn engine.Connector, listenerKey int) {
	b.post(&stopDiscoveryCmd{Connector: conn, ListenerKey: listenerKey})
}

// Register starts a register_service operation.
func (b *Broker) Register(conn engine.Connector, listenerKey int, info ServiceInfo) {
	b.post(&registerCmd{Connector: conn, ListenerKey: listenerKey, Info: info})
}

// Unregister stops a previously-started register_service operation.
func (b *Broker) Unregister(conn engine.Connector, listenerKey int) {
	b.post(&unregisterCmd{Connector: conn, ListenerKey: listenerKey})
}

// Resolve starts a resolve_service operation.
func (b *Broker) Resolve(conn engine.Connector, listenerKey int, info ServiceInfo) {
	b.post(&resolveCmd{Connector: conn, ListenerKey: listenerKey, Info: info})
}

// StopResolution stops a previously-started resolve_service operation.
func (b *Broker) StopResolution(conn engine.Connector, listenerKey int) {
	b.post(&stopResolutionCmd{Connector: conn, ListenerKey: listenerKey})
}

// RegisterServiceCallback starts a "watch registered service" operation.
func (b *Broker) RegisterServiceCallback(conn engine.Connector, listenerKey int, info ServiceInfo) {
	b.post(&registerServiceCallbackCmd{Connector: conn, ListenerKey: listenerKey, Info: info})
}

// UnregisterServiceCallback stops a previously-started watch operation.
func (b *Broker) UnregisterServiceCallback(conn engine.Connector, listenerKey int) {
	b.post(&unregisterServiceCallbackCmd{Connector: conn, ListenerKey: listenerKey})
}

// DaemonStartup marks conn as a legacy client and ensures the legacy daemon
// is running (spec.md §6, "legacy clients only").
func (b *Broker) DaemonStartup(conn engine.Connector) {
	b.post(&daemonStartupCmd{Connector: conn})
}

// Enable and Disable drive the Default/Enabled transition (spec.md §4.1).
func (b *Broker) Enable()  { b.post(&setEnabledCmd{Enabled: true}) }
func (b *Broker) Disable() { b.post(&setEnabledCmd{Enabled: false}) }

// HandleLegacyEvent implements engine.LegacyEventListener by posting a
// command; it must never be called synchronously from within the loop.
func (b *Broker) HandleLegacyEvent(ev engine.LegacyEvent) {
	b.post(&legacyEngineEventCmd{Event: ev})
}

// HandleManagedEvent implements engine.ManagedListener.
func (b *Broker) HandleManagedEvent(code engine.ManagedEventCode, ev engine.ManagedServiceEvent) {
	b.post(&managedEngineEventCmd{Code: code, Event: ev})
}

// OnRegisterSucceeded implements engine.ManagedAdvertiserCallback.
func (b *Broker) OnRegisterSucceeded(id uint32, info ServiceInfo) {
	b.post(&managedAdvertiserResultCmd{GlobalID: id, Info: info})
}

// OnRegisterFailed implements engine.ManagedAdvertiserCallback.
func (b *Broker) OnRegisterFailed(id uint32, err error) {
	b.post(&managedAdvertiserResultCmd{GlobalID: id, Err: err})
}

// dispatch is the loop's single entry point for every command. Unhandled
// combinations return NOT_HANDLED per spec.md §7: logged, no state change.
func (b *Broker) dispatch(ctx context.Context, c command) {
	if se, ok := c.(*setEnabledCmd); ok {
		if se.Enabled {
			b.enter()
		} else {
			b.exit()
		}
		return
	}

	// Default state answers everything except the four operations that
	// must still work before enablement or after a fatal error (spec.md
	// §4.1): client (de)registration and daemon housekeeping.
	if b.state == stateDefault {
		switch cmd := c.(type) {
		case *registerClientCmd:
			b.dispatchRegisterClient(cmd)
			return
		case *unregisterClientCmd:
			b.dispatchUnregisterClient(cmd)
			return
		case *daemonStartupCmd:
			b.dispatchDaemonStartup(ctx, cmd)
			return
		case *cleanupCmd:
			b.dispatchCleanup(ctx, cmd)
			return
		default:
			b.rejectInDefaultState(c)
			return
		}
	}

	switch cmd := c.(type) {
	case *registerClientCmd:
		b.dispatchRegisterClient(cmd)
	case *unregisterClientCmd:
		b.dispatchUnregisterClient(cmd)
	case *discoverCmd:
		b.dispatchDiscover(ctx, cmd)
	case *stopDiscoveryCmd:
		b.dispatchStopDiscovery(cmd)
	case *registerCmd:
		b.dispatchRegister(ctx, cmd)
	case *unregisterCmd:
		b.dispatchUnregister(cmd)
	case *resolveCmd:
		b.dispatchResolve(ctx, cmd)
	case *stopResolutionCmd:
		b.dispatchStopResolution(cmd)
	case *registerServiceCallbackCmd:
		b.dispatchRegisterServiceCallback(ctx, cmd)
	case *unregisterServiceCallbackCmd:
		b.dispatchUnregisterServiceCallback(cmd)
	case *daemonStartupCmd:
		b.dispatchDaemonStartup(ctx, cmd)
	case *cleanupCmd:
		b.dispatchCleanup(ctx, cmd)
	case *legacyEngineEventCmd:
		b.dispatchLegacyEvent(ctx, cmd)
	case *managedEngineEventCmd:
		b.dispatchManagedEvent(cmd)
	case *managedAdvertiserResultCmd:
		b.dispatchManagedAdvertiserResult(cmd)
	default:
		b.log("nsd: NOT_HANDLED: unrecognized command %T", c)
	}
}

// enter transitions Default -> Enabled, broadcasting enablement.
func (b *Broker) enter() {
	if b.state == stateEnabled {
		return
	}
	b.state = stateEnabled
	b.log("nsd: enabled")
}

// exit transitions Enabled -> Default, scheduling a delayed daemon stop.
//
// Per the open question in spec.md §9, this does not expunge outstanding
// requests; clients are not notified of cancellation. That quirk is
// preserved deliberately rather than silently fixed — see DESIGN.md.
func (b *Broker) exit() {
	if b.state == stateDefault {
		return
	}
	b.state = stateDefault
	b.scheduleStop()
	b.log("nsd: disabled")
}

// rejectInDefaultState answers every operation message with the failure
// spec.md §4.1 specifies for the Default state.
func (b *Broker) rejectInDefaultState(c command) {
	switch cmd := c.(type) {
	case *discoverCmd:
		b.replyFailed(cmd.Connector, cmd.ListenerKey, ErrInternal, sinkDiscoveryStart)
	case *stopDiscoveryCmd:
		b.replyFailed(cmd.Connector, cmd.ListenerKey, ErrInternal, sinkDiscoveryStop)
	case *registerCmd:
		b.replyFailed(cmd.Connector, cmd.ListenerKey, ErrInternal, sinkRegister)
	case *unregisterCmd:
		b.replyFailed(cmd.Connector, cmd.ListenerKey, ErrInternal, sinkUnregister)
	case *resolveCmd:
		b.replyFailed(cmd.Connector, cmd.ListenerKey, ErrInternal, sinkResolve)
	case *stopResolutionCmd:
		b.replyFailed(cmd.Connector, cmd.ListenerKey, ErrOperationNotRunning, sinkStopResolution)
	case *registerServiceCallbackCmd:
		b.replyFailed(cmd.Connector, cmd.ListenerKey, ErrBadParameters, sinkRegisterServiceCallback)
	case *unregisterServiceCallbackCmd:
		b.replyFailed(cmd.Connector, cmd.ListenerKey, ErrInternal, sinkUnregisterServiceCallback)
	default:
		b.log("nsd: NOT_HANDLED in Default state: %T", c)
	}
}

// Stats reports a point-in-time snapshot of broker occupancy, the
// expansion's metric-style replacement for the original's text dumper (see
// SPEC_FULL.md, "supplemented features").
type Stats struct {
	Clients          int
	LegacyClients    int
	LiveRequests     int
	DaemonStarted    bool
	SocketsMonitored bool
}

// Stats returns a snapshot. It must only be called from within a command
// handler or test code that otherwise serializes access to the broker.
func (b *Broker) Stats() Stats {
	s := Stats{
		Clients:          len(b.clients),
		LegacyClients:    b.legacyClientCount,
		LiveRequests:     len(b.transactions),
		DaemonStarted:    b.daemonStarted,
		SocketsMonitored: b.socketsMonitored,
	}
	return s
}
