// Package identity derives stable content identities.
//
// Identities are 64-bit FNV-1a digests over the input parts joined with '|',
// rendered as 16 lower-case hex digits. Timestamps are encoded as RFC3339Nano
// in UTC so the same instant always produces the same bytes.
package identity

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

const separator = "|"

// Sum64 returns the FNV-1a digest of parts joined by '|'.
func Sum64(parts ...string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(parts, separator)))
	return h.Sum64()
}

// Hex returns Sum64 as a fixed-width hex string.
func Hex(parts ...string) string {
	s := strconv.FormatUint(Sum64(parts...), 16)
	if len(s) < 16 {
		s = strings.Repeat("0", 16-len(s)) + s
	}
	return s
}

// Prefixed returns prefix + "-" + Hex(parts...).
func Prefixed(prefix string, parts ...string) string {
	return prefix + "-" + Hex(parts...)
}

// Time encodes t for hashing.
func Time(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Bool encodes b for hashing.
func Bool(b bool) string {
	return strconv.FormatBool(b)
}
