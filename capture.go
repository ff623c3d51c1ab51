package policyoverride

import (
	"strings"

	policyheader "github.com/ericselin/policy-override/pkg/policy-header"
)

// TranslateToFeaturePolicy converts one Permissions-Policy allow-list token
// back to its Feature-Policy form.
func TranslateToFeaturePolicy(token string) string {
	switch token {
	case "*":
		return "*"
	case "self":
		return "'self'"
	case "":
		return "'none'"
	default:
		return strings.Trim(token, `"`)
	}
}

// DeclaredPolicies reads the policy declared by the policy fields of a
// response. Permissions-Policy wins for features named in both fields.
func DeclaredPolicies(entries []HeaderEntry) map[string]Policy {
	values, _ := splitEntries(entries)
	policies := make(map[string]Policy)

	fp := policyheader.FeaturePolicy.Parse(joinValues(policyheader.FeaturePolicy, values))
	for _, name := range fp.Names() {
		al, _ := fp.Get(name)
		policies[name] = declaredPolicy(al)
	}

	pp := policyheader.PermissionsPolicy.Parse(joinValues(policyheader.PermissionsPolicy, values))
	for _, name := range pp.Names() {
		al, _ := pp.Get(name)
		tokens := make([]string, 0, len(al))
		for _, token := range al {
			tokens = append(tokens, TranslateToFeaturePolicy(token))
		}
		if len(tokens) == 0 {
			tokens = append(tokens, "'none'")
		}
		policies[name] = declaredPolicy(tokens)
	}
	return policies
}

func declaredPolicy(tokens []string) Policy {
	allowed := len(tokens) > 0 && !(len(tokens) == 1 && tokens[0] == "'none'")
	return Policy{Allowed: allowed, AllowList: copyStrings(tokens)}
}

// CaptureDeclaredPolicies captures the policy declared by the response
// headers as the original policy, keeping only the supported features when
// those are known. It reports whether a snapshot was stored.
func (m *Manager) CaptureDeclaredPolicies(entries []HeaderEntry) bool {
	m.mutex.RLock()
	held := len(m.original) > 0
	supported := copyStrings(m.supported)
	m.mutex.RUnlock()
	if held {
		return false
	}

	declared := DeclaredPolicies(entries)
	if len(supported) > 0 {
		known := make(map[string]bool, len(supported))
		for _, f := range supported {
			known[f] = true
		}
		for name := range declared {
			if !known[name] {
				delete(declared, name)
			}
		}
	}
	if len(declared) == 0 {
		return false
	}
	return m.CaptureOriginalPolicies(declared)
}
