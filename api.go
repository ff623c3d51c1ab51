package policyoverride

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type managerKey struct{}

type api struct {
	registry        *Registry
	persistOnReload bool
	log             zerolog.Logger
}

// NewAPI returns the control API for the sessions of a registry:
//
//	GET    /sessions
//	POST   /sessions                              {"id"}
//	DELETE /sessions/{id}
//	GET    /sessions/{id}/features
//	PUT    /sessions/{id}/features                ["camera", ...]
//	PUT    /sessions/{id}/original                {"camera": {"allowed", "allowList"}}
//	GET    /sessions/{id}/policies
//	POST   /sessions/{id}/policies/{feature}/toggle
//	POST   /sessions/{id}/restore
//	POST   /sessions/{id}/navigate                {"url", "persist"}
//	POST   /sessions/{id}/preview                 [{"name", "value"}]
func NewAPI(registry *Registry, persistOnReload bool, logger *zerolog.Logger) http.Handler {
	if logger == nil {
		logger = &log.Logger
	}
	a := &api{
		registry:        registry,
		persistOnReload: persistOnReload,
		log:             *logger,
	}

	r := chi.NewRouter()
	r.Get("/sessions", a.listSessions)
	r.Post("/sessions", a.openSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Use(a.sessionCtx)
		r.Delete("/", a.closeSession)
		r.Get("/features", a.getFeatures)
		r.Put("/features", a.putFeatures)
		r.Put("/original", a.putOriginal)
		r.Get("/policies", a.getPolicies)
		r.Post("/policies/{feature}/toggle", a.togglePolicy)
		r.Post("/restore", a.restore)
		r.Post("/navigate", a.navigate)
		r.Post("/preview", a.preview)
	})
	return r
}

func (a *api) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		m, ok := a.registry.Get(id)
		if !ok {
			a.writeError(w, http.StatusNotFound, ErrSessionNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), managerKey{}, m)))
	})
}

func manager(r *http.Request) *Manager {
	return r.Context().Value(managerKey{}).(*Manager)
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.registry.IDs())
}

func (a *api) openSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := decode(r, &body); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	id, _, err := a.registry.Open(body.ID)
	if err != nil {
		a.log.Error().Err(err).Msg("Could not open session")
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *api) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Close(chi.URLParam(r, "id")); err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) getFeatures(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, manager(r).SupportedFeatures())
}

func (a *api) putFeatures(w http.ResponseWriter, r *http.Request) {
	var features []string
	if err := decode(r, &features); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	manager(r).SetSupportedFeatures(features)
	a.writeJSON(w, http.StatusOK, features)
}

func (a *api) putOriginal(w http.ResponseWriter, r *http.Request) {
	var policies map[string]Policy
	if err := decode(r, &policies); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	m := manager(r)
	m.CaptureOriginalPolicies(policies)
	a.writeJSON(w, http.StatusOK, m.BuildCustomizedPolicyList())
}

func (a *api) getPolicies(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, manager(r).BuildCustomizedPolicyList())
}

func (a *api) togglePolicy(w http.ResponseWriter, r *http.Request) {
	feature := chi.URLParam(r, "feature")
	p, err := manager(r).TogglePolicy(feature)
	if err != nil {
		a.log.Warn().Err(err).Str("session", chi.URLParam(r, "id")).Msg("Could not toggle policy")
		a.writeError(w, statusFor(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, FeaturePolicy{Feature: feature, Policy: p})
}

func (a *api) restore(w http.ResponseWriter, r *http.Request) {
	m := manager(r)
	m.Restore()
	a.writeJSON(w, http.StatusOK, m.BuildCustomizedPolicyList())
}

func (a *api) navigate(w http.ResponseWriter, r *http.Request) {
	body := struct {
		URL     string `json:"url"`
		Persist *bool  `json:"persist"`
	}{}
	if err := decode(r, &body); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	persist := a.persistOnReload
	if body.Persist != nil {
		persist = *body.Persist
	}
	reload := manager(r).Navigate(body.URL, persist)
	a.writeJSON(w, http.StatusOK, map[string]bool{"reload": reload})
}

func (a *api) preview(w http.ResponseWriter, r *http.Request) {
	var entries []HeaderEntry
	if err := decode(r, &entries); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.writeJSON(w, http.StatusOK, manager(r).OverrideResponseHeaders(entries))
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func statusFor(err error) int {
	if errors.Is(err, ErrUnknownFeature) || errors.Is(err, ErrSessionNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}
