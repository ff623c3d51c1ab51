package policyheader

import "testing"

func TestParsePermissionsPolicy(t *testing.T) {
	h := ParsePermissionsPolicy(`A=self,  B=*, C=(), D=("foo.com" "bar.com" self)`)
	expected := makeHeader(
		"A", []string{"self"},
		"B", []string{"*"},
		"C", []string{},
		"D", []string{`"foo.com"`, `"bar.com"`, "self"},
	)
	if !h.Equal(expected) {
		t.Fatalf("Parsed header is %v", h.allowLists)
	}
	if h := ParsePermissionsPolicy(""); h.Len() != 0 {
		t.Fatalf("Empty value parsed to %d features", h.Len())
	}
}

func TestParsePermissionsPolicyIgnoresMembersWithoutValue(t *testing.T) {
	h := ParsePermissionsPolicy("A, =*, B=(self)")
	if names := h.Names(); len(names) != 1 || names[0] != "B" {
		t.Fatalf("Names are %v", names)
	}
}

func TestParsePermissionsPolicyEmptyToken(t *testing.T) {
	h := ParsePermissionsPolicy("A=")
	if al, ok := h.Get("A"); !ok || len(al) != 0 {
		t.Fatalf("Allow-list of A is %v (%v)", al, ok)
	}
}

func TestSerializePermissionsPolicy(t *testing.T) {
	h := makeHeader(
		"A", []string{"self"},
		"B", []string{"*"},
		"C", []string{""},
		"D", []string{`"foo.com"`, `"bar.com"`, "self"},
	)
	if s := SerializePermissionsPolicy(h); s != `A=(self), B=(*), C=(), D=("foo.com" "bar.com" self)` {
		t.Fatalf("Serialized header is %q", s)
	}
	if s := SerializePermissionsPolicy(New()); s != "" {
		t.Fatalf("Empty header serialized to %q", s)
	}
}

func TestPermissionsPolicyRoundTrip(t *testing.T) {
	values := []struct{ in, out string }{
		{`A=(self)`, `A=(self)`},
		{`A=(self "https://a.example"),B=()`, `A=(self "https://a.example"), B=()`},
		{`camera=(),  geolocation=(*)`, `camera=(), geolocation=(*)`},
		// shorthand is accepted but never produced
		{`fullscreen=*`, `fullscreen=(*)`},
	}
	for _, v := range values {
		if s := SerializePermissionsPolicy(ParsePermissionsPolicy(v.in)); s != v.out {
			t.Fatalf("Round trip of %q is %q, expected %q", v.in, s, v.out)
		}
	}
}
