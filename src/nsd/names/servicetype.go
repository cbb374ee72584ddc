// Package names implements the syntactic validation, canonicalization,
// truncation and DNS-escape handling the broker needs for service types and
// instance names. It deliberately does not implement a general DNS name
// algebra (the teacher's dissolve/names package does, and is where this
// package's shape is grounded) because the broker only ever needs to
// validate and canonicalize the two string forms spec.md §4.4 describes.
package names

import (
	"errors"
	"fmt"
	"regexp"
)

// label matches a single DNS-SD protocol/service label: a leading
// underscore, 1-61 characters of alphanumerics/underscore/hyphen, and a
// trailing alphanumeric.
const label = `_[a-zA-Z0-9_-]{1,61}[a-zA-Z0-9]`

var serviceTypePattern = regexp.MustCompile(
	`^(?:(` + label + `)\.)?(` + label + `)\._(tcp|udp)$`,
)

// ErrInvalidServiceType is returned by ValidateServiceType and
// CanonicalizeServiceType when the given string is not a syntactically
// valid DNS-SD service type.
var ErrInvalidServiceType = errors.New("invalid service type")

// ValidateServiceType returns nil if t is a syntactically valid service
// type, optionally carrying a leading subtype, such as "_http._tcp" or
// "_printer._http._tcp".
func ValidateServiceType(t string) error {
	if t == "" {
		return fmt.Errorf("%w: service type must not be empty", ErrInvalidServiceType)
	}

	if !serviceTypePattern.MatchString(t) {
		return fmt.Errorf("%w: %q", ErrInvalidServiceType, t)
	}

	return nil
}

// CanonicalizeServiceType validates t and, if it carries a leading subtype
// label, rewrites it to the canonical "<subtype>._sub.<type>._tcp|udp" form.
// Types without a subtype are returned unchanged.
func CanonicalizeServiceType(t string) (string, error) {
	m := serviceTypePattern.FindStringSubmatch(t)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidServiceType, t)
	}

	subtype, svc, proto := m[1], m[2], m[3]
	if subtype == "" {
		return t, nil
	}

	return subtype + "._sub." + svc + "._" + proto, nil
}
