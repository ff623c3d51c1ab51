package documentrules

import (
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Rules select which top-level document responses get their policy headers
// rewritten. An empty rule set selects every document.
type Rules []Rule

type Rule struct {
	Prefix  string `yaml:"prefix"`
	Path    string `yaml:"path"`
	Exclude bool   `yaml:"exclude"`
}

// Match reports whether the response is a top-level document selected by the rules.
func (r Rules) Match(res *http.Response) bool {
	if !IsDocument(res) {
		return false
	}
	if len(r) == 0 {
		return true
	}
	if rule := r.find(res); rule != nil {
		return !rule.Exclude
	}
	return false
}

// IsDocument reports whether the response answers a top-level navigation.
// Browsers send `Sec-Fetch-Dest: document` for those; when the header is
// missing, the response must at least be HTML.
func IsDocument(res *http.Response) bool {
	if res.Request == nil {
		return false
	}
	if res.Request.Method != http.MethodGet && res.Request.Method != http.MethodHead {
		return false
	}
	if dest := res.Request.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	mediaType, _, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "text/html"
}

func (r Rules) find(res *http.Response) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", res.Request.Method, res.Request.URL.Path)
	for _, rule := range r {
		if rule.Path != "" && rule.Path != res.Request.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(res.Request.URL.Path, rule.Prefix) {
			continue
		}
		log.Trace().Msgf("Matched rule %+v", rule)
		return &rule
	}
	return nil
}
