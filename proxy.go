package policyoverride

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	documentrules "github.com/ericselin/policy-override/pkg/document-rules"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSessionHeader = "X-Policy-Session"
	DefaultSession       = "default"
	DefaultPrefix        = "/.policy-override"
)

type Config struct {
	// Sessions whose overrides are applied.
	Registry *Registry
	// URL of the origin server.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Responses to rewrite. Every top-level document if empty.
	Documents documentrules.Rules
	// Request header naming the session. Defaults to DefaultSessionHeader.
	SessionHeader string
	// Session used for requests without session header. Defaults to DefaultSession.
	DefaultSession string
	// Path prefix of the control API. Defaults to DefaultPrefix.
	Prefix string
	// Keep overrides when the inspected page navigates, unless a
	// navigate call says otherwise.
	PersistOnReload bool
}

// Proxy forwards requests to the origin and rewrites the policy headers of
// top-level document responses with the overrides of the request's session.
type Proxy struct {
	registry       *Registry
	documents      documentrules.Rules
	sessionHeader  string
	defaultSession string
	prefix         string
	log            zerolog.Logger
	reverseproxy   httputil.ReverseProxy
	api            http.Handler
	router         chi.Router
}

type sessionKey struct{}

// CreateProxy initializes the proxy and its control API.
func CreateProxy(config Config) *Proxy {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	if config.Registry == nil {
		config.Registry = NewRegistry(nil, nil, &logger)
	}
	if config.SessionHeader == "" {
		config.SessionHeader = DefaultSessionHeader
	}
	if config.DefaultSession == "" {
		config.DefaultSession = DefaultSession
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}

	p := &Proxy{
		registry:       config.Registry,
		documents:      config.Documents,
		sessionHeader:  config.SessionHeader,
		defaultSession: config.DefaultSession,
		log:            logger,
	}

	host := config.OriginURL.Host
	hostHeader := host
	transport := http.DefaultTransport
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: config.OriginHost,
			},
		}
	}

	p.reverseproxy = httputil.ReverseProxy{
		Director:       createDirector(config.OriginURL.Scheme, host, hostHeader),
		Transport:      transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
	}

	p.api = NewAPI(config.Registry, config.PersistOnReload, &logger)
	p.prefix = config.Prefix
	p.router = p.mount(http.HandlerFunc(p.proxy))

	return p
}

// ServeHTTP implements the http.Handler interface.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

// mount serves the control API under the prefix and everything else with h.
func (p *Proxy) mount(h http.Handler) chi.Router {
	router := chi.NewRouter()
	router.Mount(p.prefix, p.api)
	router.Handle("/*", h)
	return router
}

// sessionOf returns the session of the request and removes the session
// header, which is meant for the proxy only.
func (p *Proxy) sessionOf(r *http.Request) string {
	session := r.Header.Get(p.sessionHeader)
	if session == "" {
		session = p.defaultSession
	}
	r.Header.Del(p.sessionHeader)
	return session
}

func (p *Proxy) proxy(w http.ResponseWriter, r *http.Request) {
	session := p.sessionOf(r)
	ctx := context.WithValue(r.Context(), sessionKey{}, session)
	p.log.Trace().Str("session", session).Msgf("proxying %s", r.URL.String())
	p.reverseproxy.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) modifyResponse(res *http.Response) error {
	session, _ := res.Request.Context().Value(sessionKey{}).(string)
	p.rewrite(res, session)
	return nil
}

func (p *Proxy) rewrite(res *http.Response, session string) {
	m, ok := p.registry.Get(session)
	if !ok {
		p.log.Trace().Str("session", session).Msg("No open session, passing response through")
		return
	}
	if !p.documents.Match(res) {
		return
	}
	entries := headerEntries(res.Header)
	if m.CaptureDeclaredPolicies(entries) {
		p.log.Trace().Str("session", session).Msg("Captured policies declared by document")
	}
	result := m.OverrideResponseHeaders(entries)
	res.Header = httpHeader(result.ResponseHeaders)
	p.logRewrite(res, session)
}

// errorHandler answers with a bad gateway when the origin cannot be reached.
func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	p.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error connecting to origin")
	http.Error(w, "Could not connect to origin", http.StatusBadGateway)
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

// headerEntries lists the fields of h sorted by name, the order in which
// http.Header.Write sends them.
func headerEntries(h http.Header) []HeaderEntry {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]HeaderEntry, 0, len(names))
	for _, name := range names {
		for _, value := range h[name] {
			entries = append(entries, HeaderEntry{Name: name, Value: value})
		}
	}
	return entries
}

func httpHeader(entries []HeaderEntry) http.Header {
	h := make(http.Header, len(entries))
	for _, e := range entries {
		h.Add(e.Name, e.Value)
	}
	return h
}

func (p *Proxy) logRewrite(res *http.Response, session string) {
	p.log.Debug().
		Str("session", session).
		Str("method", res.Request.Method).
		Str("url", res.Request.URL.String()).
		Str("sourceIp", getRequestSourceIp(res.Request)).
		Str("featurePolicy", res.Header.Get("Feature-Policy")).
		Str("permissionsPolicy", res.Header.Get("Permissions-Policy")).
		Msg("Rewrote policy headers")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}
