package policyoverride

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ericselin/policy-override/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSessionNotFound is returned for operations on a session that was never opened.
var ErrSessionNotFound = errors.New("session not found")

// Registry keeps one Manager per inspection session, e.g. per browser tab.
// Customized policies are saved to the store whenever they change, and
// loaded again when a session is opened.
type Registry struct {
	mutex    sync.RWMutex
	managers map[string]*Manager
	store    store.Provider
	features []string
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
// A nil provider keeps the overrides in memory only.
// The global zerolog logger is used if logger is nil.
func NewRegistry(provider store.Provider, features []string, logger *zerolog.Logger) *Registry {
	if provider == nil {
		provider = store.NewMemStore()
	}
	if logger == nil {
		logger = &log.Logger
	}
	return &Registry{
		managers: make(map[string]*Manager),
		store:    provider,
		features: copyStrings(features),
		log:      *logger,
	}
}

// Open returns the manager of a session, creating it if needed.
// An empty id opens a new session with a generated id.
func (r *Registry) Open(id string) (string, *Manager, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if m, ok := r.managers[id]; ok {
		return id, m, nil
	}

	logger := r.log.With().Str("session", id).Logger()
	m := NewManager(&logger)
	m.SetSupportedFeatures(r.features)

	saved, err := r.store.Load(id)
	if err != nil {
		return id, nil, fmt.Errorf("could not load overrides of session %s: %w", id, err)
	}
	if len(saved) > 0 {
		m.SetCustomizedPolicies(fromOverrides(saved))
		logger.Debug().Int("overrides", len(saved)).Msg("Loaded saved overrides")
	}
	// saves run one at a time, each with the policies current when it starts
	var saveMutex sync.Mutex
	m.SetListener(ListenerFunc(func(m *Manager) {
		saveMutex.Lock()
		defer saveMutex.Unlock()
		if err := r.store.Save(id, toOverrides(m.CustomizedPolicies())); err != nil {
			logger.Error().Err(err).Msg("Could not save overrides")
		}
	}))

	r.managers[id] = m
	logger.Info().Msg("Opened session")
	return id, m, nil
}

// Get returns the manager of an open session.
func (r *Registry) Get(id string) (*Manager, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	m, ok := r.managers[id]
	return m, ok
}

// Close drops a session together with its saved overrides.
func (r *Registry) Close(id string) error {
	r.mutex.Lock()
	m, ok := r.managers[id]
	delete(r.managers, id)
	r.mutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.SetListener(nil)
	if err := r.store.Delete(id); err != nil {
		return fmt.Errorf("could not delete overrides of session %s: %w", id, err)
	}
	r.log.Info().Str("session", id).Msg("Closed session")
	return nil
}

// IDs returns the ids of all open sessions, sorted.
func (r *Registry) IDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	ids := make([]string, 0, len(r.managers))
	for id := range r.managers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resume opens every session that has saved overrides.
func (r *Registry) Resume() error {
	ids, err := r.store.Sessions()
	if err != nil {
		return fmt.Errorf("could not list saved sessions: %w", err)
	}
	for _, id := range ids {
		if _, _, err := r.Open(id); err != nil {
			return err
		}
	}
	return nil
}

func toOverrides(policies []FeaturePolicy) []store.Override {
	overrides := make([]store.Override, 0, len(policies))
	for _, fp := range policies {
		overrides = append(overrides, store.Override{
			Feature:   fp.Feature,
			Allowed:   fp.Allowed,
			AllowList: fp.AllowList,
		})
	}
	return overrides
}

func fromOverrides(overrides []store.Override) []FeaturePolicy {
	policies := make([]FeaturePolicy, 0, len(overrides))
	for _, o := range overrides {
		policies = append(policies, FeaturePolicy{
			Feature: o.Feature,
			Policy:  Policy{Allowed: o.Allowed, AllowList: o.AllowList},
		})
	}
	return policies
}
