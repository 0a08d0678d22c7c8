// Package model manages model selection: it maps semantic capabilities
// (structuring, coding, reviewing, writing, fast) to concrete provider
// endpoints with fallback chains.
package model

import "strings"

// Capability is a semantic model capability used for endpoint selection.
type Capability string

const (
	// CapabilityStructuring covers text-to-JSON and code-to-JSON derivation.
	CapabilityStructuring Capability = "structuring"

	// CapabilityCoding covers test code generation.
	CapabilityCoding Capability = "coding"

	// CapabilityReviewing covers artifact review and coherence checks.
	CapabilityReviewing Capability = "reviewing"

	// CapabilityWriting covers rendering procedure text.
	CapabilityWriting Capability = "writing"

	// CapabilityFast covers ad-hoc chat and other quick turns.
	CapabilityFast Capability = "fast"
)

// ParseCapability returns the capability for s, or "" if unknown.
func ParseCapability(s string) Capability {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case CapabilityStructuring, CapabilityCoding, CapabilityReviewing, CapabilityWriting, CapabilityFast:
		return c
	}
	return ""
}
