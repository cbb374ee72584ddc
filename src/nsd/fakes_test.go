package nsd_test

import (
	"context"
	"sync"

	"github.com/jmalloc/nsdbroker/src/nsd/engine"
)

// fakeConnector is a minimal engine.Connector: death notification is
// triggered explicitly by test code via die(), mirroring how a real IPC
// peer's death is detected out-of-band from anything the broker does.
type fakeConnector struct {
	mu      sync.Mutex
	onDeath func()
}

func (c *fakeConnector) NotifyOnDeath(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDeath = fn
}

func (c *fakeConnector) die() {
	c.mu.Lock()
	fn := c.onDeath
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// sinkCall records one CallbackSink invocation for assertions.
type sinkCall struct {
	method      string
	listenerKey int
	code        engine.ErrorCode
	info        engine.ServiceInfo
}

// fakeSink records every callback invocation in order, synchronized since
// the broker's loop goroutine is the caller.
type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) record(c sinkCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *fakeSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *fakeSink) last() sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return sinkCall{}
	}
	return s.calls[len(s.calls)-1]
}

func (s *fakeSink) OnDiscoveryStarted(k int) { s.record(sinkCall{method: "DiscoveryStarted", listenerKey: k}) }
func (s *fakeSink) OnDiscoveryStartFailed(k int, c engine.ErrorCode) {
	s.record(sinkCall{method: "DiscoveryStartFailed", listenerKey: k, code: c})
}
func (s *fakeSink) OnDiscoveryStopped(k int) { s.record(sinkCall{method: "DiscoveryStopped", listenerKey: k}) }
func (s *fakeSink) OnDiscoveryStopFailed(k int, c engine.ErrorCode) {
	s.record(sinkCall{method: "DiscoveryStopFailed", listenerKey: k, code: c})
}
func (s *fakeSink) OnServiceFound(k int, info engine.ServiceInfo) {
	s.record(sinkCall{method: "ServiceFound", listenerKey: k, info: info})
}
func (s *fakeSink) OnServiceLost(k int, info engine.ServiceInfo) {
	s.record(sinkCall{method: "ServiceLost", listenerKey: k, info: info})
}
func (s *fakeSink) OnRegisterPending(k int) { s.record(sinkCall{method: "RegisterPending", listenerKey: k}) }
func (s *fakeSink) OnRegisterFailed(k int, c engine.ErrorCode) {
	s.record(sinkCall{method: "RegisterFailed", listenerKey: k, code: c})
}
func (s *fakeSink) OnRegisterSucceeded(k int, info engine.ServiceInfo) {
	s.record(sinkCall{method: "RegisterSucceeded", listenerKey: k, info: info})
}
func (s *fakeSink) OnUnregisterSucceeded(k int) {
	s.record(sinkCall{method: "UnregisterSucceeded", listenerKey: k})
}
func (s *fakeSink) OnUnregisterFailed(k int, c engine.ErrorCode) {
	s.record(sinkCall{method: "UnregisterFailed", listenerKey: k, code: c})
}
func (s *fakeSink) OnResolvePending(k int) { s.record(sinkCall{method: "ResolvePending", listenerKey: k}) }
func (s *fakeSink) OnResolveFailed(k int, c engine.ErrorCode) {
	s.record(sinkCall{method: "ResolveFailed", listenerKey: k, code: c})
}
func (s *fakeSink) OnResolveSucceeded(k int, info engine.ServiceInfo) {
	s.record(sinkCall{method: "ResolveSucceeded", listenerKey: k, info: info})
}
func (s *fakeSink) OnStopResolutionSucceeded(k int) {
	s.record(sinkCall{method: "StopResolutionSucceeded", listenerKey: k})
}
func (s *fakeSink) OnStopResolutionFailed(k int, c engine.ErrorCode) {
	s.record(sinkCall{method: "StopResolutionFailed", listenerKey: k, code: c})
}
func (s *fakeSink) OnServiceCallbackRegistrationFailed(k int, c engine.ErrorCode) {
	s.record(sinkCall{method: "ServiceCallbackRegistrationFailed", listenerKey: k, code: c})
}
func (s *fakeSink) OnServiceUpdated(k int, info engine.ServiceInfo) {
	s.record(sinkCall{method: "ServiceUpdated", listenerKey: k, info: info})
}
func (s *fakeSink) OnServiceUpdatedLost(k int) {
	s.record(sinkCall{method: "ServiceUpdatedLost", listenerKey: k})
}
func (s *fakeSink) OnServiceCallbackUnregistered(k int) {
	s.record(sinkCall{method: "ServiceCallbackUnregistered", listenerKey: k})
}

// fakeLegacyEngine is a synchronous, in-memory stand-in for the legacy mDNS
// daemon. Test code drives its callbacks explicitly via the listener it
// captures from RegisterEventListener, mirroring the real daemon's
// out-of-process asynchrony without needing real sockets.
type fakeLegacyEngine struct {
	mu sync.Mutex

	listener     engine.LegacyEventListener
	daemonStarts int
	daemonStops  int
	startErr     error

	discoverOK bool
	resolveOK  bool
	registerOK bool
	getAddrOK  bool
	stoppedIDs []uint32

	lastDiscoverID uint32
	lastResolveID  uint32
	lastRegisterID uint32
	lastGetAddrID  uint32
}

func newFakeLegacyEngine() *fakeLegacyEngine {
	return &fakeLegacyEngine{discoverOK: true, resolveOK: true, registerOK: true, getAddrOK: true}
}

func (e *fakeLegacyEngine) RegisterEventListener(l engine.LegacyEventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *fakeLegacyEngine) StartDaemon(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.daemonStarts++
	return e.startErr
}

func (e *fakeLegacyEngine) StopDaemon(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.daemonStops++
	return nil
}

func (e *fakeLegacyEngine) RegisterService(id uint32, name, svcType string, port uint16, txt map[string][]byte, ifaceIdx int) bool {
	e.mu.Lock()
	e.lastRegisterID = id
	e.mu.Unlock()
	return e.registerOK
}

func (e *fakeLegacyEngine) Discover(id uint32, svcType string, ifaceIdx int) bool {
	e.mu.Lock()
	e.lastDiscoverID = id
	e.mu.Unlock()
	return e.discoverOK
}

func (e *fakeLegacyEngine) Resolve(id uint32, name, svcType, domain string, ifaceIdx int) bool {
	e.mu.Lock()
	e.lastResolveID = id
	e.mu.Unlock()
	return e.resolveOK
}

func (e *fakeLegacyEngine) GetServiceAddress(id uint32, hostname string, ifaceIdx int) bool {
	e.mu.Lock()
	e.lastGetAddrID = id
	e.mu.Unlock()
	return e.getAddrOK
}

func (e *fakeLegacyEngine) StopOperation(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stoppedIDs = append(e.stoppedIDs, id)
}

func (e *fakeLegacyEngine) fire(ev engine.LegacyEvent) {
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()
	l.HandleLegacyEvent(ev)
}

func (e *fakeLegacyEngine) starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.daemonStarts
}

func (e *fakeLegacyEngine) stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.daemonStops
}

func (e *fakeLegacyEngine) discoverID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDiscoverID
}

func (e *fakeLegacyEngine) resolveID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResolveID
}

func (e *fakeLegacyEngine) getAddrID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastGetAddrID
}

// fakeListenerHandle is the opaque handle returned by
// fakeManagedDiscoveryManager. It carries the broker's transaction id so
// fire() can echo it back as ClientID without the test needing to track it
// separately.
type fakeListenerHandle struct {
	serviceType string
	id          uint32
}

// fakeManagedDiscoveryManager is a synchronous stand-in for the in-process
// managed discovery backend.
type fakeManagedDiscoveryManager struct {
	mu          sync.Mutex
	listeners   map[uint32]engine.ManagedListener
	registerErr error
}

func newFakeManagedDiscoveryManager() *fakeManagedDiscoveryManager {
	return &fakeManagedDiscoveryManager{
		listeners: map[uint32]engine.ManagedListener{},
	}
}

func (m *fakeManagedDiscoveryManager) RegisterListener(id uint32, serviceType string, listener engine.ManagedListener, opts engine.SearchOptions) (engine.ListenerHandle, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[id] = listener
	return &fakeListenerHandle{serviceType: serviceType, id: id}, nil
}

func (m *fakeManagedDiscoveryManager) UnregisterListener(serviceType string, handle engine.ListenerHandle) error {
	h, ok := handle.(*fakeListenerHandle)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, h.id)
	return nil
}

// fire delivers a managed event to the listener registered under handle,
// echoing back the transaction id the broker supplied at registration.
func (m *fakeManagedDiscoveryManager) fire(handle engine.ListenerHandle, code engine.ManagedEventCode, info engine.ServiceInfo) {
	h := handle.(*fakeListenerHandle)
	m.mu.Lock()
	l := m.listeners[h.id]
	m.mu.Unlock()

	l.HandleManagedEvent(code, engine.ManagedServiceEvent{
		ClientID:      h.id,
		RequestedType: h.serviceType,
		Info:          info,
	})
}

// fakeManagedAdvertiser is a synchronous stand-in for the in-process
// managed advertisement backend.
type fakeManagedAdvertiser struct {
	mu      sync.Mutex
	cb      engine.ManagedAdvertiserCallback
	addErr  error
	lastID  uint32
	removed []uint32
}

func (a *fakeManagedAdvertiser) RegisterCallback(cb engine.ManagedAdvertiserCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
}

func (a *fakeManagedAdvertiser) AddService(id uint32, info engine.ServiceInfo) error {
	a.mu.Lock()
	a.lastID = id
	a.mu.Unlock()
	return a.addErr
}

func (a *fakeManagedAdvertiser) addedID() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastID
}

func (a *fakeManagedAdvertiser) RemoveService(id uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, id)
	return nil
}

func (a *fakeManagedAdvertiser) succeed(id uint32, info engine.ServiceInfo) {
	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	cb.OnRegisterSucceeded(id, info)
}

// fakeFeatureFlags lets each test pick which backend an operation is
// routed to.
type fakeFeatureFlags struct {
	managedDiscovery  bool
	managedAdvertiser bool
}

func (f *fakeFeatureFlags) ManagedDiscoveryEnabled() bool  { return f.managedDiscovery }
func (f *fakeFeatureFlags) ManagedAdvertiserEnabled() bool { return f.managedAdvertiser }

// fakeInterfaceResolver always resolves to IfaceAny, sufficient for tests
// that don't exercise per-network routing.
type fakeInterfaceResolver struct{}

func (fakeInterfaceResolver) ResolveInterfaceIndex(n engine.Network) int { return engine.IfaceAny }

// fakeSocketProvider counts start/stop calls without doing anything real.
type fakeSocketProvider struct {
	mu           sync.Mutex
	startCount   int
	stopCount    int
}

func (s *fakeSocketProvider) StartMonitoringSockets() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCount++
	return nil
}

func (s *fakeSocketProvider) StopMonitoringSockets() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCount++
	return nil
}
