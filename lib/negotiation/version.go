// Package negotiation implements the protocol version handshake performed on
// every new cache connection before it is used.
package negotiation

import (
	"fmt"
	"slices"
	"strings"
)

// Version is a cache protocol version number.
type Version int32

// VersionSet is a set of supported protocol versions.
type VersionSet []Version

// NewVersionSet returns a normalized set: deduplicated, positive versions
// sorted from highest to lowest.
func NewVersionSet(versions ...Version) VersionSet {
	vs := make(VersionSet, 0, len(versions))
	for _, v := range versions {
		if v > 0 && !slices.Contains(vs, v) {
			vs = append(vs, v)
		}
	}
	slices.SortFunc(vs, func(a, b Version) int { return int(b) - int(a) })
	return vs
}

// Highest returns the highest version, or false for an empty set.
func (vs VersionSet) Highest() (Version, bool) {
	if len(vs) == 0 {
		return 0, false
	}
	return slices.Max(vs), true
}

// Supports reports whether v is in the set.
func (vs VersionSet) Supports(v Version) bool {
	return slices.Contains(vs, v)
}

// PreferredAtMost returns the highest version in the set that is <= max.
func (vs VersionSet) PreferredAtMost(max Version) (Version, bool) {
	var best Version
	found := false
	for _, v := range vs {
		if v <= max && (!found || v > best) {
			best, found = v, true
		}
	}
	return best, found
}

// SelectCommon returns the highest version present in both sets.
func (vs VersionSet) SelectCommon(other VersionSet) (Version, bool) {
	var best Version
	found := false
	for _, v := range vs {
		if other.Supports(v) && (!found || v > best) {
			best, found = v, true
		}
	}
	return best, found
}

func (vs VersionSet) String() string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Session is the outcome of a successful negotiation. It is immutable for the
// lifetime of the connection it was negotiated on.
type Session struct {
	version Version
}

// NewSession returns a session for the agreed version.
func NewSession(v Version) Session {
	return Session{version: v}
}

// Version returns the agreed protocol version.
func (s Session) Version() Version {
	return s.version
}
