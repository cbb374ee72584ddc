package nsd

import "github.com/jmalloc/nsdbroker/src/nsd/engine"

// LegacyOpKind distinguishes the legacy teardown primitive a LegacyRequest
// requires (spec.md §3).
type LegacyOpKind int

const (
	LegacyOpDiscover LegacyOpKind = iota
	LegacyOpRegister
	LegacyOpResolve
	LegacyOpResolveViaCallback
)

func (k LegacyOpKind) String() string {
	switch k {
	case LegacyOpDiscover:
		return "discover"
	case LegacyOpRegister:
		return "register"
	case LegacyOpResolve:
		return "resolve"
	case LegacyOpResolveViaCallback:
		return "resolve-via-callback"
	default:
		return "unknown"
	}
}

// ClientRequest is the tagged variant described in spec.md §3. The three
// concrete types below replace the polymorphic request class hierarchy of
// the original Java source with a small closed interface, per SPEC_FULL.md.
type ClientRequest interface {
	// globalID returns the transaction id under which this request is
	// indexed in the broker's transaction table.
	globalID() uint32
}

// LegacyRequest is a request being serviced by the legacy daemon.
type LegacyRequest struct {
	GlobalID uint32
	OpKind   LegacyOpKind
}

func (r *LegacyRequest) globalID() uint32 { return r.GlobalID }

// ManagedDiscoveryRequest is a discover or resolve request being serviced
// by the managed discovery manager.
type ManagedDiscoveryRequest struct {
	GlobalID       uint32
	ListenerHandle engine.ListenerHandle
	ServiceType    string // the listened (canonical + ".local") service type
}

func (r *ManagedDiscoveryRequest) globalID() uint32 { return r.GlobalID }

// ManagedAdvertiserRequest is a register request being serviced by the
// managed advertiser. The advertiser tracks its own state; the broker only
// needs the id to stop it later.
type ManagedAdvertiserRequest struct {
	GlobalID uint32
}

func (r *ManagedAdvertiserRequest) globalID() uint32 { return r.GlobalID }
