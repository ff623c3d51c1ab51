package policyoverride

import (
	"strings"

	policyheader "github.com/ericselin/policy-override/pkg/policy-header"
)

// HeaderEntry is one response header field.
type HeaderEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Result holds the rewritten response headers.
type Result struct {
	ResponseHeaders []HeaderEntry `json:"responseHeaders"`
}

// OverrideResponseHeaders applies the customized policies to the
// Feature-Policy and Permissions-Policy fields of a response.
//
// Repeated fields of one kind are combined before parsing. The rewritten
// policy fields come first, Feature-Policy before Permissions-Policy, and
// are left out when they serialize to nothing. All other fields follow in
// their original order. The entries slice is not modified.
func (m *Manager) OverrideResponseHeaders(entries []HeaderEntry) Result {
	customized := m.CustomizedPolicies()

	values, others := splitEntries(entries)

	headers := make([]HeaderEntry, 0, len(others)+len(policyheader.Kinds))
	for _, kind := range policyheader.Kinds {
		h := kind.Parse(joinValues(kind, values))
		if value := kind.Serialize(overrideHeader(kind, h, customized)); value != "" {
			headers = append(headers, HeaderEntry{Name: kind.HeaderName(), Value: value})
		}
	}
	return Result{ResponseHeaders: append(headers, others...)}
}

// splitEntries groups the values of the policy fields by kind and returns
// them apart from all other fields.
func splitEntries(entries []HeaderEntry) (map[policyheader.Kind][]string, []HeaderEntry) {
	values := make(map[policyheader.Kind][]string)
	others := make([]HeaderEntry, 0, len(entries))
	for _, e := range entries {
		if kind, ok := policyheader.KindOf(e.Name); ok {
			values[kind] = append(values[kind], e.Value)
		} else {
			others = append(others, e)
		}
	}
	return values, others
}

func joinValues(kind policyheader.Kind, values map[policyheader.Kind][]string) string {
	return strings.Join(values[kind], kind.Separator())
}
