package model

import (
	"fmt"
	"net/url"
	"strings"
)

// URI represents one parsed source/destination URI of an OPEN_CONNECT
// request: authority "Application@uuid", plus the hybridization method and
// key_sources list carried in the source URI's query string.
type URI struct {
	Raw           string
	Application   string
	UUID          string
	Hybridization HybridizationMethod
	KeySources    []KeyExtractionAlgorithm
}

// ParseURI parses a "scheme://Application@uuid?hybridization=...&key_sources=..."
// string. hybridization and key_sources are optional; callers that only need
// the authority (e.g. the destination URI) may ignore them.
func ParseURI(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("model: invalid uri %q: %w", raw, err)
	}
	if u.User == nil || u.Host == "" {
		return URI{}, fmt.Errorf("model: uri %q missing Application@uuid authority", raw)
	}

	result := URI{
		Raw:         raw,
		Application: u.User.Username(),
		UUID:        u.Host,
	}

	query := u.Query()
	if hyb := query.Get("hybridization"); hyb != "" {
		method, err := ParseHybridizationMethod(hyb)
		if err != nil {
			return URI{}, err
		}
		result.Hybridization = method
	}

	if sources := query.Get("key_sources"); sources != "" {
		for _, tok := range strings.Split(sources, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			alg, err := ParseKeyExtractionAlgorithm(tok)
			if err != nil {
				return URI{}, err
			}
			result.KeySources = append(result.KeySources, alg)
		}
	}

	return result, nil
}

// HasAlgorithm reports whether alg appears in the parsed key_sources list.
func (u URI) HasAlgorithm(alg KeyExtractionAlgorithm) bool {
	for _, a := range u.KeySources {
		if a == alg {
			return true
		}
	}
	return false
}
