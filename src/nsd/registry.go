package nsd

import "github.com/jmalloc/nsdbroker/src/nsd/engine"

// registerClient creates an empty ClientRecord for conn and installs death
// notification, per spec.md §4.3. Idempotent: registering a connector that
// is already registered is a no-op. If the peer dies before any request is
// stored, the death handler simply removes the still-empty record.
func (b *Broker) registerClient(conn engine.Connector, sink engine.CallbackSink) {
	if _, ok := b.clients[conn]; ok {
		return
	}

	b.clients[conn] = newClientRecord(sink)

	conn.NotifyOnDeath(func() {
		b.post(&unregisterClientCmd{Connector: conn})
	})
}

// unregisterClient removes conn's ClientRecord, expunging every request it
// held (spec.md §4.3).
func (b *Broker) unregisterClient(conn engine.Connector) {
	rec, ok := b.clients[conn]
	if !ok {
		return
	}

	delete(b.clients, conn)

	for _, req := range rec.requests {
		delete(b.transactions, req.globalID())
		b.stopBackendRequest(req)
	}

	wasLegacy := rec.isLegacyClient
	hadManagedRequests := hasManagedRequest(rec)

	if wasLegacy {
		b.legacyClientCount--
	}

	// Called unconditionally, mirroring NsdService's UNREGISTER_CLIENT
	// handler: maybeScheduleDaemonStop has its own guard against
	// legacyClientCount and any remaining client's live legacy requests, so
	// a client that only ever called daemon_startup without ever starting a
	// legacy request still arms the cleanup timer on disconnect.
	b.maybeScheduleDaemonStop()

	if hadManagedRequests {
		b.maybeStopMonitoringSocketsIfNoActiveRequest()
	}
}

// addRequest stores req under key in rec's request table and indexes it by
// transaction id, maintaining invariants I1/I2.
func (b *Broker) addRequest(conn engine.Connector, rec *ClientRecord, key int, req ClientRequest) {
	rec.requests[key] = req
	b.transactions[req.globalID()] = conn
}

// removeRequest removes the request stored under key, if any, from both
// indices. It does not invoke any backend teardown; callers that need that
// use stopBackendRequest explicitly (expungement and explicit stop-ops
// follow different paths per spec.md §4.5's backend-preservation rule).
func (b *Broker) removeRequest(rec *ClientRecord, key int) (ClientRequest, bool) {
	req, ok := rec.requests[key]
	if !ok {
		return nil, false
	}

	delete(rec.requests, key)
	delete(b.transactions, req.globalID())

	return req, true
}

// lookupByTransaction resolves a transaction id to its owning connector and
// client record, the O(1) reverse lookup spec.md §2 describes.
func (b *Broker) lookupByTransaction(id uint32) (engine.Connector, *ClientRecord, bool) {
	conn, ok := b.transactions[id]
	if !ok {
		return nil, nil, false
	}

	rec, ok := b.clients[conn]
	return conn, rec, ok
}

func hasLegacyRequest(rec *ClientRecord) bool {
	for _, req := range rec.requests {
		if _, ok := req.(*LegacyRequest); ok {
			return true
		}
	}
	return false
}

func hasManagedRequest(rec *ClientRecord) bool {
	for _, req := range rec.requests {
		switch req.(type) {
		case *ManagedDiscoveryRequest, *ManagedAdvertiserRequest:
			return true
		}
	}
	return false
}
