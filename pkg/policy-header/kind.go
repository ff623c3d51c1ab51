package policyheader

import "strings"

// Kind identifies one of the two policy header families.
type Kind int

const (
	// FeaturePolicy is the legacy header: `camera 'self'; geolocation *`.
	FeaturePolicy Kind = iota
	// PermissionsPolicy is the structured header: `camera=(self), geolocation=*`.
	PermissionsPolicy
)

// Kinds lists the header families in the order they are emitted.
var Kinds = []Kind{FeaturePolicy, PermissionsPolicy}

const (
	featurePolicyName     = "Feature-Policy"
	permissionsPolicyName = "Permissions-Policy"
)

// HeaderName returns the canonical header field name.
func (k Kind) HeaderName() string {
	if k == PermissionsPolicy {
		return permissionsPolicyName
	}
	return featurePolicyName
}

func (k Kind) String() string {
	return k.HeaderName()
}

// Separator is used to join the values of repeated header fields
// of this kind into a single value.
func (k Kind) Separator() string {
	if k == PermissionsPolicy {
		return ","
	}
	return ";"
}

// Matches reports whether a header field name belongs to this kind.
// Names are compared case-insensitively and must match exactly.
func (k Kind) Matches(name string) bool {
	return strings.EqualFold(name, k.HeaderName())
}

// KindOf returns the kind of a header field name.
// The boolean is false for every other header.
func KindOf(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Matches(name) {
			return k, true
		}
	}
	return 0, false
}

// Parse parses a header value with the codec of this kind.
func (k Kind) Parse(value string) *Header {
	if k == PermissionsPolicy {
		return ParsePermissionsPolicy(value)
	}
	return ParseFeaturePolicy(value)
}

// Serialize serializes a header with the codec of this kind.
func (k Kind) Serialize(h *Header) string {
	if k == PermissionsPolicy {
		return SerializePermissionsPolicy(h)
	}
	return SerializeFeaturePolicy(h)
}
