package nsd_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/jmalloc/nsdbroker/src/nsd"
	"github.com/jmalloc/nsdbroker/src/nsd/engine"
)

// harness bundles a running Broker with the fakes wired into it, the way
// each dissolve/mdns/responder test builds a Responder against a fake
// transport rather than a real socket.
type harness struct {
	broker    *nsd.Broker
	legacy    *fakeLegacyEngine
	discovery *fakeManagedDiscoveryManager
	advert    *fakeManagedAdvertiser
	flags     *fakeFeatureFlags
	sockets   *fakeSocketProvider

	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(opts ...nsd.BrokerOption) *harness {
	h := &harness{
		legacy:    newFakeLegacyEngine(),
		discovery: newFakeManagedDiscoveryManager(),
		advert:    &fakeManagedAdvertiser{},
		flags:     &fakeFeatureFlags{},
		sockets:   &fakeSocketProvider{},
		done:      make(chan struct{}),
	}

	all := append([]nsd.BrokerOption{
		nsd.WithLegacyEngine(h.legacy),
		nsd.WithManagedDiscoveryManager(h.discovery),
		nsd.WithManagedAdvertiser(h.advert),
		nsd.WithSocketProvider(h.sockets),
		nsd.WithInterfaceResolver(fakeInterfaceResolver{}),
		nsd.WithFeatureFlags(h.flags),
	}, opts...)

	h.broker = nsd.New(all...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		defer close(h.done)
		h.broker.Run(ctx)
	}()

	return h
}

func (h *harness) stop() {
	h.cancel()
	Eventually(h.done).Should(BeClosed())
}

func (h *harness) newClient() (*fakeConnector, *fakeSink) {
	conn := &fakeConnector{}
	sink := &fakeSink{}
	h.broker.RegisterClient(conn, sink)
	return conn, sink
}

var _ = Describe("Broker", func() {
	var h *harness

	AfterEach(func() {
		if h != nil {
			h.stop()
		}
	})

	Describe("discover_services", func() {
		It("routes to the managed discovery manager and delivers found services", func() {
			h = newHarness()
			h.flags.managedDiscovery = true

			conn, sink := h.newClient()
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})

			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))
			Expect(sink.last().listenerKey).To(Equal(1))
			Expect(h.sockets.startCount).To(Equal(1))

			var handle engine.ListenerHandle
			Eventually(func() bool {
				h.discovery.mu.Lock()
				defer h.discovery.mu.Unlock()
				for id := range h.discovery.listeners {
					handle = &fakeListenerHandle{serviceType: "_foo._tcp.local", id: id}
					return true
				}
				return false
			}).Should(BeTrue())

			h.discovery.fire(handle, engine.ManagedServiceFound, engine.ServiceInfo{
				InstanceName: "My Printer",
				ServiceType:  "_foo._tcp",
			})

			Eventually(func() string { return sink.last().method }).Should(Equal("ServiceFound"))
			Expect(sink.last().info.InstanceName).To(Equal("My Printer"))
		})

		It("fails a second discover_services on the same listener key with ALREADY_ACTIVE", func() {
			h = newHarness()
			h.flags.managedDiscovery = true

			conn, sink := h.newClient()
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))

			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStartFailed"))
			Expect(sink.last().code).To(Equal(engine.ErrAlreadyActive))
		})

		It("starts and stops the legacy daemon around a legacy-routed discovery", func() {
			h = newHarness(nsd.WithCleanupDelay(20 * time.Millisecond))

			conn, sink := h.newClient()
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})

			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))
			Eventually(h.legacy.starts).Should(Equal(1))

			id := h.legacy.discoverID()
			h.legacy.fire(engine.LegacyEvent{
				Code:          engine.LegacyServiceFound,
				TransactionID: id,
				FullName:      `My Printer._foo._tcp.local.`,
				NetID:         5,
			})

			Eventually(func() string { return sink.last().method }).Should(Equal("ServiceFound"))
			Expect(sink.last().info.ServiceType).To(Equal("_foo._tcp"))

			h.broker.StopDiscovery(conn, 1)
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStopped"))
			Eventually(h.legacy.stops, "200ms", "5ms").Should(Equal(1))
		})
	})

	Describe("resolve_service", func() {
		It("drives the legacy two-stage pipeline to ResolveSucceeded", func() {
			h = newHarness()

			conn, sink := h.newClient()
			h.broker.Resolve(conn, 1, nsd.ServiceInfo{
				ServiceType:  "_foo._tcp",
				InstanceName: "My Printer._foo._tcp",
			})

			Eventually(func() string { return sink.last().method }).Should(Equal("ResolvePending"))

			id := h.legacy.resolveID()
			h.legacy.fire(engine.LegacyEvent{
				Code:          engine.LegacyServiceResolved,
				TransactionID: id,
				FullName:      "My Printer._foo._tcp.local.",
				Hostname:      "printer.local.",
				Port:          8080,
			})

			// The address lookup runs under a second, separately-allocated
			// transaction id, not the resolve id above. It is only allocated
			// once the loop has processed the resolved event.
			var id2 uint32
			Eventually(func() uint32 {
				id2 = h.legacy.getAddrID()
				return id2
			}).ShouldNot(BeZero())
			Expect(id2).NotTo(Equal(id))
			h.legacy.fire(engine.LegacyEvent{
				Code:          engine.LegacyServiceGetAddrSuccess,
				TransactionID: id2,
				Address:       "192.168.1.5",
				NetID:         5,
			})

			Eventually(func() string { return sink.last().method }).Should(Equal("ResolveSucceeded"))
			Expect(sink.last().info.Hosts).To(Equal([]string{"192.168.1.5"}))
			Expect(sink.last().info.Port).To(Equal(uint16(8080)))
		})

		It("rejects a second resolve on the same listener key while the first is active", func() {
			h = newHarness()

			conn, sink := h.newClient()
			h.broker.Resolve(conn, 3, nsd.ServiceInfo{
				ServiceType:  "_foo._tcp",
				InstanceName: "My Printer._foo._tcp",
			})
			Eventually(func() string { return sink.last().method }).Should(Equal("ResolvePending"))

			h.broker.Resolve(conn, 3, nsd.ServiceInfo{
				ServiceType:  "_foo._tcp",
				InstanceName: "My Printer._foo._tcp",
			})

			Eventually(func() string { return sink.last().method }).Should(Equal("ResolveFailed"))
			Expect(sink.last().code).To(Equal(engine.ErrAlreadyActive))
		})
	})

	Describe("register_service", func() {
		It("routes to the managed advertiser and reports the async result", func() {
			h = newHarness()
			h.flags.managedAdvertiser = true

			conn, sink := h.newClient()
			h.broker.Register(conn, 1, nsd.ServiceInfo{
				ServiceType:  "_foo._tcp",
				InstanceName: "My Printer",
				Port:         9100,
			})

			Eventually(func() string { return sink.last().method }).Should(Equal("RegisterPending"))
			Expect(h.sockets.startCount).To(Equal(1))

			id := h.advert.addedID()
			h.advert.succeed(id, engine.ServiceInfo{
				ServiceType:  "_foo._tcp",
				InstanceName: "My Printer",
				Port:         9100,
			})

			Eventually(func() string { return sink.last().method }).Should(Equal("RegisterSucceeded"))
			Expect(sink.last().info.Port).To(Equal(uint16(9100)))

			h.broker.Unregister(conn, 1)
			Eventually(func() string { return sink.last().method }).Should(Equal("UnregisterSucceeded"))
			Expect(h.advert.removed).To(ContainElement(id))
		})
	})

	Describe("peer death", func() {
		It("expunges every live request and tears down its backend", func() {
			h = newHarness(nsd.WithCleanupDelay(20 * time.Millisecond))

			conn, sink := h.newClient()
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))
			id := h.legacy.discoverID()
			Eventually(h.legacy.starts).Should(Equal(1))

			conn.die()

			// StopOperation is called synchronously while unregisterClient
			// walks the dying client's requests.
			Eventually(func() []uint32 {
				h.legacy.mu.Lock()
				defer h.legacy.mu.Unlock()
				return h.legacy.stoppedIDs
			}).Should(ContainElement(id))

			// With no legacy client and no legacy request left, the daemon
			// stop the expunged request armed eventually fires too.
			Eventually(h.legacy.stops, "200ms", "5ms").Should(Equal(1))

			// A request issued after the client is gone should still reach
			// the sink, since RegisterClient re-creates an empty record.
			h.broker.RegisterClient(conn, sink)
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))
		})
	})

	Describe("per-client capacity", func() {
		It("allows exactly 10 live requests and rejects the 11th", func() {
			h = newHarness()
			h.flags.managedDiscovery = true

			conn, sink := h.newClient()

			for i := 0; i < 10; i++ {
				h.broker.Discover(conn, i, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
				Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))
			}

			h.broker.Discover(conn, 10, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStartFailed"))
			Expect(sink.last().code).To(Equal(engine.ErrMaxLimitReached))
		})
	})

	Describe("legacy daemon lifecycle", func() {
		It("stops the daemon after the cleanup delay once the last request is gone", func() {
			h = newHarness(nsd.WithCleanupDelay(20 * time.Millisecond))

			conn, sink := h.newClient()
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))
			Eventually(h.legacy.starts).Should(Equal(1))

			h.broker.StopDiscovery(conn, 1)
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStopped"))

			Eventually(h.legacy.stops, "200ms", "5ms").Should(Equal(1))
		})

		It("cancels the pending stop if new legacy work arrives before the delay elapses", func() {
			h = newHarness(nsd.WithCleanupDelay(100 * time.Millisecond))

			conn, sink := h.newClient()
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))
			Eventually(h.legacy.starts).Should(Equal(1))

			h.broker.StopDiscovery(conn, 1)
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStopped"))

			h.broker.Discover(conn, 2, nsd.ServiceInfo{ServiceType: "_bar._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))

			Consistently(h.legacy.stops, "150ms", "10ms").Should(Equal(0))
		})
	})

	Describe("Default state", func() {
		It("rejects operation messages but still accepts client registration", func() {
			h = newHarness()
			h.broker.Disable()

			conn, sink := h.newClient()
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})

			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStartFailed"))
			Expect(sink.last().code).To(Equal(engine.ErrInternal))

			h.broker.Enable()
			h.broker.Discover(conn, 1, nsd.ServiceInfo{ServiceType: "_foo._tcp"})
			Eventually(func() string { return sink.last().method }).Should(Equal("DiscoveryStarted"))
		})
	})
})
