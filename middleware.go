package policyoverride

import (
	"net/http"

	headerwriter "github.com/ericselin/policy-override/pkg/header-writer"
)

// Middleware serves the control API and rewrites the policy headers of the
// document responses of next, for use in front of a local handler instead
// of an origin server.
func (p *Proxy) Middleware(next http.Handler) http.Handler {
	return p.mount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := p.sessionOf(r)
		hw := headerwriter.New(w, func(status int, h http.Header) http.Header {
			res := &http.Response{StatusCode: status, Header: h, Request: r}
			p.rewrite(res, session)
			return res.Header
		})
		next.ServeHTTP(hw, r)
		hw.Finish()
	}))
}
