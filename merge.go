package policyoverride

import (
	policyheader "github.com/ericselin/policy-override/pkg/policy-header"
)

// TranslateToPermissionsPolicy converts one Feature-Policy allow-list token
// to its Permissions-Policy form. `'none'` has no token of its own and
// becomes the empty string, which serializes as an empty list.
func TranslateToPermissionsPolicy(token string) string {
	switch token {
	case "*":
		return "*"
	case "'self'":
		return "self"
	case "'none'":
		return ""
	default:
		return `"` + token + `"`
	}
}

// OverrideFeaturePolicyHeader sets the allow-list of every customized
// feature in h. Other features are left untouched.
func (m *Manager) OverrideFeaturePolicyHeader(h *policyheader.Header) *policyheader.Header {
	return overrideHeader(policyheader.FeaturePolicy, h, m.CustomizedPolicies())
}

// OverridePermissionsPolicyHeader is like OverrideFeaturePolicyHeader,
// translating the allow-lists to Permissions-Policy tokens.
func (m *Manager) OverridePermissionsPolicyHeader(h *policyheader.Header) *policyheader.Header {
	return overrideHeader(policyheader.PermissionsPolicy, h, m.CustomizedPolicies())
}

func overrideHeader(kind policyheader.Kind, h *policyheader.Header, customized []FeaturePolicy) *policyheader.Header {
	for _, fp := range customized {
		allowList := policyheader.AllowList(copyStrings(fp.AllowList))
		if kind == policyheader.PermissionsPolicy {
			for i, token := range allowList {
				allowList[i] = TranslateToPermissionsPolicy(token)
			}
		}
		h.Set(fp.Feature, allowList)
	}
	return h
}
