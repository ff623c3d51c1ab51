package policyheader

import "strings"

// ParsePermissionsPolicy parses a Permissions-Policy value such as
// `geolocation=(self "https://example.com"), camera=(), fullscreen=*`.
//
// The value of a member is either a parenthesized list or a single token.
// Tokens are kept verbatim: quoted origins keep their quotes. Members
// without "=" are ignored. Commas inside quoted strings are not supported.
func ParsePermissionsPolicy(value string) *Header {
	h := New()
	for _, member := range strings.Split(value, ",") {
		name, item, found := strings.Cut(member, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			continue
		}
		h.Set(name, parseItem(strings.TrimSpace(item)))
	}
	return h
}

func parseItem(item string) AllowList {
	if strings.HasPrefix(item, "(") {
		inner := strings.TrimSuffix(strings.TrimPrefix(item, "("), ")")
		return AllowList(strings.Fields(inner))
	}
	if item == "" {
		return AllowList{}
	}
	return AllowList{item}
}

// SerializePermissionsPolicy writes every member as a parenthesized list,
// also for single tokens, so `fullscreen=*` becomes `fullscreen=(*)`.
// An empty allow-list is written as `()`.
func SerializePermissionsPolicy(h *Header) string {
	members := make([]string, 0, h.Len())
	for _, name := range h.names {
		members = append(members, name+"=("+strings.Join(nonEmpty(h.allowLists[name]), " ")+")")
	}
	return strings.Join(members, ", ")
}
