// Package vectors extracts the candidate injection points from a parsed
// HTTP request — query parameters, allowlisted headers, cookies, and
// form/JSON body fields — in the fixed order spec.md §4.3 requires so that
// results are reproducible across runs.
package vectors

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// Location names where a vector was found in the request.
type Location string

const (
	LocationQuery  Location = "query"
	LocationHeader Location = "header"
	LocationCookie Location = "cookie"
	LocationBody   Location = "body"
	LocationJSON   Location = "json"
)

// Vector is a single candidate injection point: a name/value pair and
// where it was found.
type Vector struct {
	Location      Location
	Name          string
	OriginalValue string
}

// InjectableHeaders is the fixed allowlist of headers considered for
// injection. Arbitrary headers are excluded to keep the vector count
// bounded on requests with large, irrelevant header sets.
var InjectableHeaders = map[string]bool{
	"user-agent":                true,
	"referer":                   true,
	"x-forwarded-for":           true,
	"x-forwarded-host":          true,
	"x-custom-ip-authorization": true,
	"x-original-url":            true,
	"x-rewrite-url":             true,
	"x-client-ip":               true,
	"true-client-ip":            true,
	"forwarded":                 true,
	"origin":                    true,
}

// Header is a single request header, kept as an ordered name/value pair
// rather than folded into a map so that extractHeaders' output order is
// deterministic (spec.md §4.3 / §9: vector extraction must be an ordered
// sequence, not a map iteration).
type Header struct {
	Name  string
	Value string
}

// Request is the minimal request shape vector extraction needs. Parsing a
// raw request file into this shape is outside ricochet's scope (spec.md
// §6 treats the request parser as an external collaborator); callers
// supply one however they obtain it.
type Request struct {
	Method      string
	Path        string
	Headers     []Header
	Cookie      string
	Body        []byte
	ContentType string
}

// Extract returns every injectable vector in req, in the order: query
// parameters, then headers, then cookies, then body fields. The order is
// part of the contract: callers that cap the number of injections probed
// rely on it to prioritize query parameters first.
func Extract(req Request) []Vector {
	var out []Vector
	out = append(out, extractQuery(req)...)
	out = append(out, extractHeaders(req)...)
	out = append(out, extractCookies(req)...)
	out = append(out, extractBody(req)...)
	return out
}

func extractQuery(req Request) []Vector {
	u, err := url.Parse(req.Path)
	if err != nil || u.RawQuery == "" {
		return nil
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil
	}

	var out []Vector
	// url.Values is a map; iterate the raw query string to preserve
	// declaration order instead of Go's randomized map order.
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		decodedName, err := url.QueryUnescape(name)
		if err != nil {
			continue
		}
		vals, ok := values[decodedName]
		if !ok || len(vals) == 0 {
			continue
		}
		out = append(out, Vector{Location: LocationQuery, Name: decodedName, OriginalValue: vals[0]})
		values[decodedName] = vals[1:]
	}
	return out
}

func extractHeaders(req Request) []Vector {
	var out []Vector
	for _, h := range req.Headers {
		if InjectableHeaders[strings.ToLower(h.Name)] {
			out = append(out, Vector{Location: LocationHeader, Name: h.Name, OriginalValue: h.Value})
		}
	}
	return out
}

func extractCookies(req Request) []Vector {
	cookie := req.Cookie
	if cookie == "" {
		for _, h := range req.Headers {
			if strings.EqualFold(h.Name, "Cookie") {
				cookie = h.Value
				break
			}
		}
	}
	if cookie == "" {
		return nil
	}

	var out []Vector
	for _, part := range strings.Split(cookie, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		out = append(out, Vector{Location: LocationCookie, Name: strings.TrimSpace(name), OriginalValue: strings.TrimSpace(value)})
	}
	return out
}

func extractBody(req Request) []Vector {
	if len(req.Body) == 0 {
		return nil
	}
	contentType := strings.ToLower(req.ContentType)
	if contentType == "" {
		for _, h := range req.Headers {
			if strings.EqualFold(h.Name, "Content-Type") {
				contentType = strings.ToLower(h.Value)
				break
			}
		}
	}

	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		return extractFormBody(req.Body)
	case strings.Contains(contentType, "application/json"):
		return extractJSONBody(req.Body)
	default:
		return nil
	}
}

func extractFormBody(body []byte) []Vector {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}
	var out []Vector
	for _, pair := range strings.Split(string(body), "&") {
		if pair == "" {
			continue
		}
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		decodedName, err := url.QueryUnescape(name)
		if err != nil {
			continue
		}
		vals, ok := values[decodedName]
		if !ok || len(vals) == 0 {
			continue
		}
		out = append(out, Vector{Location: LocationBody, Name: decodedName, OriginalValue: vals[0]})
		values[decodedName] = vals[1:]
	}
	return out
}

// extractJSONBody pulls string-valued top-level fields out of a JSON
// object body, in declaration order. A map[string]string would be
// sufficient to hold the result but loses key order on iteration, so this
// walks the raw token stream instead.
func extractJSONBody(body []byte) []Vector {
	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var out []Vector
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil
		}
		if value, ok := valTok.(string); ok {
			out = append(out, Vector{Location: LocationJSON, Name: key, OriginalValue: value})
			continue
		}
		// Non-string values (numbers, objects, arrays, bools, null) are not
		// injectable as a text payload; skip past them without flattening.
		if delim, ok := valTok.(json.Delim); ok && (delim == '{' || delim == '[') {
			if err := skipJSONValue(dec); err != nil {
				return nil
			}
		}
	}
	return out
}

// skipJSONValue consumes the remainder of a nested object or array that
// extractJSONBody has already read the opening delimiter for.
func skipJSONValue(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
