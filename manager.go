package policyoverride

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownFeature is returned when toggling a feature that is neither
	// overridden nor part of the page's original policy.
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrQueryFailed is returned when the page's live policy could not be queried.
	ErrQueryFailed = errors.New("could not query page policy")
)

// QueryError is returned by Refresh. It matches ErrQueryFailed and unwraps
// to the querier's error.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return ErrQueryFailed.Error() + ": " + e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) Is(target error) bool {
	return target == ErrQueryFailed
}

// Policy is the allow state of one feature.
// For overrides, AllowList uses Feature-Policy vocabulary:
// `*`, `'self'`, `'none'` or origins.
type Policy struct {
	Allowed   bool     `json:"allowed"`
	AllowList []string `json:"allowList"`
}

// FeaturePolicy is a Policy together with its feature name.
type FeaturePolicy struct {
	Feature string `json:"feature"`
	Policy
}

// PolicyQuerier asks the inspected page which features it allows.
// How the page is queried is up to the implementation.
type PolicyQuerier interface {
	QueryPolicies(ctx context.Context, features []string) (map[string]Policy, error)
}

// Listener is notified after the manager's policies changed.
type Listener interface {
	PoliciesChanged(m *Manager)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(m *Manager)

func (f ListenerFunc) PoliciesChanged(m *Manager) {
	f(m)
}

// Manager holds the policy state of one inspected page: the policy the page
// declared and the overrides chosen by the user.
type Manager struct {
	mutex      sync.RWMutex
	supported  []string
	original   map[string]Policy
	customized map[string]Policy
	// order in which features were first customized
	order    []string
	lastURL  string
	listener Listener
	log      zerolog.Logger
}

// NewManager creates a manager without policies.
// The global zerolog logger is used if logger is nil.
func NewManager(logger *zerolog.Logger) *Manager {
	if logger == nil {
		logger = &log.Logger
	}
	return &Manager{
		original:   make(map[string]Policy),
		customized: make(map[string]Policy),
		order:      make([]string, 0),
		log:        *logger,
	}
}

// SetListener sets the listener notified after every change. Nil disables notifications.
func (m *Manager) SetListener(listener Listener) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listener = listener
}

func (m *Manager) notify() {
	m.mutex.RLock()
	listener := m.listener
	m.mutex.RUnlock()
	if listener != nil {
		listener.PoliciesChanged(m)
	}
}

// SupportedFeatures returns the features known to the browser.
func (m *Manager) SupportedFeatures() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if len(m.supported) == 0 {
		m.log.Warn().Msg("List of features supported by the browser was not set")
	}
	return copyStrings(m.supported)
}

// SetSupportedFeatures sets the features known to the browser.
func (m *Manager) SetSupportedFeatures(features []string) {
	m.mutex.Lock()
	m.supported = copyStrings(features)
	m.mutex.Unlock()
}

// OriginalPolicies returns a copy of the policy declared by the page.
func (m *Manager) OriginalPolicies() map[string]Policy {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	original := make(map[string]Policy, len(m.original))
	for name, p := range m.original {
		original[name] = copyPolicy(p)
	}
	return original
}

// CaptureOriginalPolicies stores the policy declared by the page, unless a
// snapshot is already held for the current page. It reports whether the
// snapshot was stored.
func (m *Manager) CaptureOriginalPolicies(policies map[string]Policy) bool {
	m.mutex.Lock()
	if len(m.original) > 0 {
		m.mutex.Unlock()
		return false
	}
	for name, p := range policies {
		m.original[name] = copyPolicy(p)
	}
	m.mutex.Unlock()
	m.log.Debug().Int("features", len(policies)).Msg("Captured original policies")
	m.notify()
	return true
}

// Refresh queries the page's live policy for all supported features and
// captures it as the original policy if none is held yet.
func (m *Manager) Refresh(ctx context.Context, q PolicyQuerier) error {
	policies, err := q.QueryPolicies(ctx, m.SupportedFeatures())
	if err != nil {
		m.log.Error().Err(err).Msg("Error getting page's permissions policy list")
		return &QueryError{Err: err}
	}
	if !m.CaptureOriginalPolicies(policies) {
		m.notify()
	}
	return nil
}

// CustomizedPolicies returns the overrides in the order they were created.
func (m *Manager) CustomizedPolicies() []FeaturePolicy {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.customizedLocked()
}

func (m *Manager) customizedLocked() []FeaturePolicy {
	list := make([]FeaturePolicy, 0, len(m.order))
	for _, name := range m.order {
		list = append(list, FeaturePolicy{Feature: name, Policy: copyPolicy(m.customized[name])})
	}
	return list
}

// SetCustomizedPolicies replaces all overrides.
func (m *Manager) SetCustomizedPolicies(policies []FeaturePolicy) {
	m.mutex.Lock()
	m.customized = make(map[string]Policy, len(policies))
	m.order = make([]string, 0, len(policies))
	for _, fp := range policies {
		m.setLocked(fp.Feature, copyPolicy(fp.Policy))
	}
	m.mutex.Unlock()
	m.notify()
}

func (m *Manager) setLocked(name string, p Policy) {
	if _, ok := m.customized[name]; !ok {
		m.order = append(m.order, name)
	}
	m.customized[name] = p
}

// TogglePolicy flips whether a feature is allowed on the page.
// The current state is taken from an existing override, or else from the
// page's original policy. A newly allowed feature is allowed for all
// origins, a newly disallowed one for none.
func (m *Manager) TogglePolicy(feature string) (Policy, error) {
	m.mutex.Lock()
	current, ok := m.customized[feature]
	if !ok {
		current, ok = m.original[feature]
	}
	if !ok {
		m.mutex.Unlock()
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	toggled := Policy{Allowed: !current.Allowed, AllowList: []string{"'none'"}}
	if toggled.Allowed {
		toggled.AllowList = []string{"*"}
	}
	m.setLocked(feature, toggled)
	m.mutex.Unlock()

	m.log.Debug().Str("feature", feature).Bool("allowed", toggled.Allowed).Msg("Toggled policy")
	m.notify()
	return copyPolicy(toggled), nil
}

// Restore drops all overrides and the original policy snapshot.
func (m *Manager) Restore() {
	m.mutex.Lock()
	m.restoreLocked()
	m.mutex.Unlock()
	m.log.Debug().Msg("Restored original policies")
	m.notify()
}

func (m *Manager) restoreLocked() {
	m.customized = make(map[string]Policy)
	m.order = make([]string, 0)
	m.original = make(map[string]Policy)
}

// Navigate records that the inspected page navigated to url.
// Navigating to a different page without persisting the overrides restores
// the original policies; the return value then tells the caller to reload
// the page so the restored headers take effect.
func (m *Manager) Navigate(url string, persist bool) bool {
	m.mutex.Lock()
	differentPage := m.lastURL != url
	m.lastURL = url
	if !differentPage || persist {
		m.mutex.Unlock()
		return false
	}
	m.restoreLocked()
	m.mutex.Unlock()
	m.log.Debug().Str("url", url).Msg("Navigated to different page, restored original policies")
	m.notify()
	return true
}

// BuildCustomizedPolicyList returns the page's original policies with the
// overrides applied, sorted by feature name.
func (m *Manager) BuildCustomizedPolicyList() []FeaturePolicy {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	list := make([]FeaturePolicy, 0, len(m.original))
	for name, p := range m.original {
		if c, ok := m.customized[name]; ok {
			p = c
		}
		list = append(list, FeaturePolicy{Feature: name, Policy: copyPolicy(p)})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Feature < list[j].Feature
	})
	return list
}

func copyPolicy(p Policy) Policy {
	return Policy{Allowed: p.Allowed, AllowList: copyStrings(p.AllowList)}
}

func copyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
