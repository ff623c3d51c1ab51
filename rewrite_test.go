package policyoverride

import (
	"os"
	"reflect"
	"testing"

	policyheader "github.com/ericselin/policy-override/pkg/policy-header"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

const testFeature = "FeatureA"

func newTestManager() *Manager {
	m := NewManager(nil)
	m.SetCustomizedPolicies([]FeaturePolicy{
		{Feature: testFeature, Policy: Policy{Allowed: false, AllowList: []string{"'none'"}}},
	})
	return m
}

func assertHeaders(t *testing.T, got, expected []HeaderEntry) {
	t.Helper()
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("Headers are %+v, expected %+v", got, expected)
	}
}

var overriddenHeaders = []HeaderEntry{
	{Name: "Feature-Policy", Value: "FeatureA 'none'"},
	{Name: "Permissions-Policy", Value: "FeatureA=()"},
}

func TestNoOverrideKeepsOtherHeaders(t *testing.T) {
	in := []HeaderEntry{{Name: "other-header", Value: "foobar"}}
	result := NewManager(nil).OverrideResponseHeaders(in)
	assertHeaders(t, result.ResponseHeaders, in)
}

func TestOverrideFeaturePolicyHeader(t *testing.T) {
	result := newTestManager().OverrideResponseHeaders([]HeaderEntry{
		{Name: "Feature-Policy", Value: "FeatureA *"},
	})
	assertHeaders(t, result.ResponseHeaders, overriddenHeaders)
}

func TestOverridePermissionsPolicyHeader(t *testing.T) {
	result := newTestManager().OverrideResponseHeaders([]HeaderEntry{
		{Name: "Permissions-Policy", Value: "FeatureA=*"},
	})
	assertHeaders(t, result.ResponseHeaders, overriddenHeaders)
}

func TestOverrideKeepsOtherHeadersUntouched(t *testing.T) {
	result := newTestManager().OverrideResponseHeaders([]HeaderEntry{
		{Name: "other-header", Value: "foobar"},
		{Name: "Feature-Policy", Value: ""},
		{Name: "Permissions-Policy", Value: ""},
	})
	assertHeaders(t, result.ResponseHeaders, append(overriddenHeaders, HeaderEntry{Name: "other-header", Value: "foobar"}))
}

func TestOverrideKeepsOrderOfOtherHeaders(t *testing.T) {
	in := []HeaderEntry{
		{Name: "B", Value: "1"},
		{Name: "permissions-policy", Value: "camera=(self)"},
		{Name: "A", Value: "2"},
		{Name: "feature-policy", Value: "camera 'self'"},
		{Name: "B", Value: "3"},
	}
	result := NewManager(nil).OverrideResponseHeaders(in)
	assertHeaders(t, result.ResponseHeaders, []HeaderEntry{
		{Name: "Feature-Policy", Value: "camera 'self'"},
		{Name: "Permissions-Policy", Value: "camera=(self)"},
		{Name: "B", Value: "1"},
		{Name: "A", Value: "2"},
		{Name: "B", Value: "3"},
	})
}

func TestOverrideDoesNotModifyInput(t *testing.T) {
	in := []HeaderEntry{
		{Name: "Feature-Policy", Value: "FeatureA *"},
		{Name: "other-header", Value: "foobar"},
	}
	newTestManager().OverrideResponseHeaders(in)
	assertHeaders(t, in, []HeaderEntry{
		{Name: "Feature-Policy", Value: "FeatureA *"},
		{Name: "other-header", Value: "foobar"},
	})
}

func TestOverrideCombinesRepeatedHeaders(t *testing.T) {
	result := newTestManager().OverrideResponseHeaders([]HeaderEntry{
		{Name: "Feature-Policy", Value: "camera 'self'"},
		{Name: "Feature-Policy", Value: "FeatureA *"},
		{Name: "Permissions-Policy", Value: "camera=(self)"},
		{Name: "Permissions-Policy", Value: `geolocation=("https://a.example")`},
	})
	assertHeaders(t, result.ResponseHeaders, []HeaderEntry{
		{Name: "Feature-Policy", Value: "camera 'self'; FeatureA 'none'"},
		{Name: "Permissions-Policy", Value: `camera=(self), geolocation=("https://a.example"), FeatureA=()`},
	})
}

func TestOverrideIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	m.SetCustomizedPolicies([]FeaturePolicy{
		{Feature: "camera", Policy: Policy{Allowed: true, AllowList: []string{"'self'", "a.example"}}},
		{Feature: "usb", Policy: Policy{Allowed: false, AllowList: []string{"'none'"}}},
	})
	once := m.OverrideResponseHeaders([]HeaderEntry{
		{Name: "Feature-Policy", Value: "camera *; fullscreen 'self'"},
		{Name: "Permissions-Policy", Value: "camera=*, fullscreen=(self)"},
		{Name: "Content-Type", Value: "text/html"},
	})
	twice := m.OverrideResponseHeaders(once.ResponseHeaders)
	assertHeaders(t, twice.ResponseHeaders, once.ResponseHeaders)
	assertHeaders(t, once.ResponseHeaders, []HeaderEntry{
		{Name: "Feature-Policy", Value: "camera 'self' a.example; fullscreen 'self'; usb 'none'"},
		{Name: "Permissions-Policy", Value: `camera=(self "a.example"), fullscreen=(self), usb=()`},
		{Name: "Content-Type", Value: "text/html"},
	})
}

func TestEmptyOverridesOnlyNormalize(t *testing.T) {
	result := NewManager(nil).OverrideResponseHeaders([]HeaderEntry{
		{Name: "Feature-Policy", Value: "a  *;b 'self'"},
		{Name: "Permissions-Policy", Value: "a=*,b=(self)"},
	})
	assertHeaders(t, result.ResponseHeaders, []HeaderEntry{
		{Name: "Feature-Policy", Value: "a *; b 'self'"},
		{Name: "Permissions-Policy", Value: "a=(*), b=(self)"},
	})
}

func TestTranslateToPermissionsPolicy(t *testing.T) {
	cases := map[string]string{
		"*":                 "*",
		"'self'":            "self",
		"'none'":            "",
		"https://a.example": `"https://a.example"`,
		"a.example":         `"a.example"`,
	}
	for in, out := range cases {
		if got := TranslateToPermissionsPolicy(in); got != out {
			t.Fatalf("Translation of %q is %q, expected %q", in, got, out)
		}
	}
}

func TestMergerAddsMissingFeatures(t *testing.T) {
	m := newTestManager()
	h := m.OverridePermissionsPolicyHeader(policyheader.ParsePermissionsPolicy("camera=(self)"))
	if names := h.Names(); len(names) != 2 || names[0] != "camera" || names[1] != testFeature {
		t.Fatalf("Names are %v", names)
	}
	if al, _ := h.Get(testFeature); len(al) != 1 || al[0] != "" {
		t.Fatalf("Allow-list is %v", al)
	}
	h = m.OverrideFeaturePolicyHeader(policyheader.ParseFeaturePolicy("FeatureA *; camera 'self'"))
	if names := h.Names(); names[0] != testFeature {
		t.Fatalf("Overridden feature moved: %v", names)
	}
}
