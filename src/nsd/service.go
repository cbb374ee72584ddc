package nsd

import (
	"strings"

	"github.com/jmalloc/nsdbroker/src/nsd/engine"
)

// ServiceInfo is the broker's service-description value type (spec.md §3).
// It is an alias of engine.ServiceInfo so that the core and the
// collaborator boundary agree on a single representation without an import
// cycle.
type ServiceInfo = engine.ServiceInfo

// Network is an opaque, broker-global network handle (spec.md §3).
type Network = engine.Network

// NoNetwork is the zero value meaning "no specific network requested".
const NoNetwork = engine.NoNetwork

// txtPairs renders a TXT attribute map as "key=value" (or bare "key" for an
// empty value) pairs, the same rendering dissolve/dnssd/instance.go's
// Instance.TXT() uses when building its TXT record.
func txtPairs(attrs map[string][]byte) []string {
	pairs := make([]string, 0, len(attrs))

	for k, v := range attrs {
		if len(v) == 0 {
			pairs = append(pairs, k)
		} else {
			pairs = append(pairs, k+"="+string(v))
		}
	}

	return pairs
}

// parseTXTPairs parses the "key=value"/"key" pairs of a TXT record into an
// attribute map, skipping (and reporting) any pair with an invalid key, as
// spec.md §4.6 requires for managed RESOLVE_SUCCEEDED processing.
func parseTXTPairs(pairs []string) (attrs map[string][]byte, invalid []string) {
	attrs = map[string][]byte{}

	for _, p := range pairs {
		k, v := p, ""
		hasValue := false

		if i := strings.IndexByte(p, '='); i >= 0 {
			k, v = p[:i], p[i+1:]
			hasValue = true
		}

		if !validTXTKey(k) {
			invalid = append(invalid, k)
			continue
		}

		if hasValue {
			attrs[k] = []byte(v)
		} else {
			attrs[k] = nil
		}
	}

	return attrs, invalid
}

// validTXTKey reports whether k is usable as a TXT attribute key: it must
// be non-empty and must not contain '=' (which would make the pair
// ambiguous to parse back).
func validTXTKey(k string) bool {
	return k != "" && !strings.ContainsRune(k, '=')
}
