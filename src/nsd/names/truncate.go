package names

import "unicode/utf8"

// MaxLabelLength is the maximum length, in bytes, of a DNS label. Instance
// names are truncated to this many UTF-8 bytes per RFC 6763.
const MaxLabelLength = 63

// maxFastPathRunes is the largest rune count that is guaranteed to encode to
// no more than MaxLabelLength bytes regardless of which code points are
// used (every rune is at most 4 bytes in UTF-8).
const maxFastPathRunes = MaxLabelLength / 4

// TruncateInstanceName truncates name to at most MaxLabelLength UTF-8 bytes,
// never splitting a code point.
func TruncateInstanceName(name string) string {
	if utf8.RuneCountInString(name) <= maxFastPathRunes {
		return name
	}

	end := 0
	for i, r := range name {
		w := utf8.RuneLen(r)
		if i+w > MaxLabelLength {
			break
		}
		end = i + w
	}

	return name[:end]
}
