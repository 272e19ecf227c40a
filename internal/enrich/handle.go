package enrich

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	profilePrefix = "in/"
	linkedinHost  = "https://www.linkedin.com"
)

// hostPrefixes are stripped from the front of a handle, longest first.
var hostPrefixes = []string{
	"https://www.linkedin.com",
	"http://www.linkedin.com",
	"https://linkedin.com",
	"http://linkedin.com",
	"www.linkedin.com",
	"linkedin.com",
}

// NormalizeHandle canonicalizes a LinkedIn URL or handle into "/in/<handle>".
// Scheme, host, case, query and trailing-slash variants of the same profile
// all normalize to the same key, and normalizing twice is a no-op.
func NormalizeHandle(raw string) (string, error) {
	// Casers carry state, so each call builds its own.
	h := cases.Lower(language.Und).String(strings.TrimSpace(raw))
	if h == "" {
		return "", eris.Wrap(ErrInvalidIdentifier, "empty handle")
	}

	for _, p := range hostPrefixes {
		if strings.HasPrefix(h, p) {
			h = h[len(p):]
			break
		}
	}

	if i := strings.IndexAny(h, "?#"); i >= 0 {
		h = h[:i]
	}

	h = strings.Trim(h, "/")
	if h == "" || h == "in" {
		return "", eris.Wrapf(ErrInvalidIdentifier, "no handle in %q", raw)
	}
	if !strings.HasPrefix(h, profilePrefix) {
		h = profilePrefix + h
	}
	return "/" + h, nil
}

// ProfileURL returns the public profile URL the gateway is asked to fetch.
func ProfileURL(raw string) (string, error) {
	h, err := NormalizeHandle(raw)
	if err != nil {
		return "", err
	}
	return linkedinHost + h, nil
}
