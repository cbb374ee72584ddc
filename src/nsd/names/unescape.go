package names

import (
	"errors"
	"strconv"
)

// ErrTruncatedEscape is returned when a DNS escape sequence is cut short by
// the end of the string.
var ErrTruncatedEscape = errors.New("truncated escape sequence")

// SplitInstanceName unescapes the leading portion of a DNS-escaped full name
// (as reported by the legacy daemon's SERVICE_RESOLVED callback) up to the
// first unescaped '.', returning the decoded instance name and the raw
// (still-escaped) remainder following that dot.
//
// For example, SplitInstanceName("Svc\\032Name._foo._tcp.local.") returns
// ("Svc Name", "_foo._tcp.local.", nil).
func SplitInstanceName(full string) (instance string, remainder string, err error) {
	var out []byte

	i := 0
	for i < len(full) {
		c := full[i]

		if c == '.' {
			return string(out), full[i+1:], nil
		}

		if c != '\\' {
			out = append(out, c)
			i++
			continue
		}

		// escape sequence
		if i+1 >= len(full) {
			return string(out), "", ErrTruncatedEscape
		}

		next := full[i+1]
		if next == '.' || next == '\\' {
			out = append(out, next)
			i += 2
			continue
		}

		if i+4 > len(full) {
			return string(out), "", ErrTruncatedEscape
		}

		digits := full[i+1 : i+4]
		v, derr := strconv.Atoi(digits)
		if derr != nil {
			return string(out), "", ErrTruncatedEscape
		}

		out = append(out, byte(v))
		i += 4
	}

	return string(out), "", nil
}
