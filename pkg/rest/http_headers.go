package rest

import (
	"mime"
	"net/http"
	"strings"

	"github.com/edgeflare/pgapi/pkg/apierr"
)

// Prefer holds preferences from the Prefer header (RFC 7240).
type Prefer struct {
	Return string // "minimal", "representation", "headers-only"
}

// parsePrefer parses the Prefer header according to RFC 7240.
// It returns nil if the header is not present.
func parsePrefer(r *http.Request) *Prefer {
	header := r.Header.Get("Prefer")
	if header == "" {
		return nil
	}

	p := &Prefer{Return: "representation"}
	parseKeyValPairs(header, func(key, value string) {
		if key == "return" && isValidReturn(value) {
			p.Return = strings.ToLower(value)
		}
	})
	return p
}

// parseKeyValPairs parses comma-separated preference directives.
// For each key=value pair found, it calls fn with the key and value.
func parseKeyValPairs(header string, fn func(key, value string)) {
	for pref := range strings.SplitSeq(header, ",") {
		pref = strings.TrimSpace(pref)
		if key, value, found := strings.Cut(pref, "="); found {
			key = strings.TrimSpace(strings.ToLower(key))
			value = strings.Trim(strings.TrimSpace(value), `"`)
			fn(key, value)
		}
	}
}

// isValidReturn reports whether s is a valid return preference value.
func isValidReturn(s string) bool {
	switch strings.ToLower(s) {
	case "minimal", "representation", "headers-only":
		return true
	}
	return false
}

// WantsBody reports whether a mutation response should carry the resulting document.
// Without a Prefer header it does.
func (p *Prefer) WantsBody() bool {
	return p == nil || p.Return == "representation"
}

// checkContentType accepts the JSON:API media type, without parameters, and plain JSON.
func checkContentType(r *http.Request) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return nil
	}
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return &apierr.Error{Status: http.StatusUnsupportedMediaType, Code: "unsupported_media_type",
			Title: "Unsupported Media Type", Detail: err.Error()}
	}
	switch {
	case mt == apierr.MediaType && len(params) == 0, mt == "application/json":
		return nil
	}
	return &apierr.Error{Status: http.StatusUnsupportedMediaType, Code: "unsupported_media_type",
		Title: "Unsupported Media Type", Detail: "expected " + apierr.MediaType}
}
