package policyheader

import "strings"

// ParseFeaturePolicy parses a Feature-Policy value such as
// `geolocation 'self' https://example.com; camera 'none'`.
// Empty segments are skipped, so an empty value gives an empty header.
// A feature listed twice keeps its first position and its last allow-list.
func ParseFeaturePolicy(value string) *Header {
	h := New()
	for _, segment := range strings.Split(value, ";") {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		h.Set(fields[0], AllowList(fields[1:]))
	}
	return h
}

// SerializeFeaturePolicy is the inverse of ParseFeaturePolicy.
// Features are joined with "; " and tokens with a single space.
// A feature without tokens is written as its bare name.
func SerializeFeaturePolicy(h *Header) string {
	directives := make([]string, 0, h.Len())
	for _, name := range h.names {
		directive := name
		if tokens := nonEmpty(h.allowLists[name]); len(tokens) > 0 {
			directive += " " + strings.Join(tokens, " ")
		}
		directives = append(directives, directive)
	}
	return strings.Join(directives, "; ")
}

// nonEmpty drops empty tokens, which have no representation on the wire.
func nonEmpty(al AllowList) []string {
	tokens := make([]string, 0, len(al))
	for _, tok := range al {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
