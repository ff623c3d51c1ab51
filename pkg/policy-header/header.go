// Package policyheader parses and serializes the Feature-Policy and
// Permissions-Policy response headers.
//
// Both headers map feature names to allow-lists, so they share one model,
// Header, and differ only in their wire syntax. The Permissions-Policy codec
// understands the subset of structured field syntax that policies use in
// practice: a single token or a parenthesized list of tokens.
package policyheader

// AllowList is an ordered list of origins or keywords for one feature.
// Tokens are kept as received, duplicates included.
type AllowList []string

// Header is an ordered map from feature name to allow-list.
// Feature names are case-sensitive.
type Header struct {
	names      []string
	allowLists map[string]AllowList
}

// New returns an empty header.
func New() *Header {
	return &Header{
		names:      make([]string, 0),
		allowLists: make(map[string]AllowList),
	}
}

// Set inserts or replaces the allow-list for a feature.
// A replaced feature keeps its position, a new one is appended.
func (h *Header) Set(name string, allowList AllowList) {
	if _, ok := h.allowLists[name]; !ok {
		h.names = append(h.names, name)
	}
	h.allowLists[name] = allowList
}

// Get returns the allow-list of a feature and whether the feature is present.
func (h *Header) Get(name string) (AllowList, bool) {
	al, ok := h.allowLists[name]
	return al, ok
}

// Names returns the feature names in order.
func (h *Header) Names() []string {
	names := make([]string, len(h.names))
	copy(names, h.names)
	return names
}

// Len returns the number of features.
func (h *Header) Len() int {
	return len(h.names)
}

// Equal reports whether both headers hold the same features, in the same
// order, with the same allow-lists.
func (h *Header) Equal(other *Header) bool {
	if h.Len() != other.Len() {
		return false
	}
	for i, name := range h.names {
		if other.names[i] != name {
			return false
		}
		a, b := h.allowLists[name], other.allowLists[name]
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if a[j] != b[j] {
				return false
			}
		}
	}
	return true
}
