package ingest

import (
	"errors"
	"html"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
}

// cleanText strips any markup from s and collapses whitespace. Text without
// a tag is only normalised.
func cleanText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return normalize(s)
	}
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return normalize(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// canonicalURL lowercases scheme and host, drops default ports, fragments and
// tracking parameters, cleans the path and sorts the query. A missing scheme
// defaults to https.
func canonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		if parsed, err = url.Parse("https://" + strings.TrimPrefix(raw, "//")); err != nil {
			return "", err
		}
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme " + parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	if port := parsed.Port(); port != "" && !(parsed.Scheme == "http" && port == "80") && !(parsed.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	parsed.Host = host

	clean := path.Clean("/" + parsed.Path)
	if clean != "/" && strings.HasSuffix(parsed.Path, "/") {
		clean += "/"
	}
	parsed.Path = clean
	parsed.Fragment = ""

	query := parsed.Query()
	for key := range query {
		if _, drop := trackingQueryParams[strings.ToLower(key)]; drop {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
