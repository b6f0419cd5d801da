package vectors

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Mutated is the result of applying a payload to one vector: a copy of the
// original request with exactly that vector's value replaced. The
// original request is never modified.
type Mutated struct {
	Path    string
	Headers map[string]string
	Body    []byte
}

// Inject applies payload at vector's location and returns the mutated
// request. Unrecognized locations return req unchanged, mirroring the
// Python original's fallback for a location it doesn't know how to
// mutate.
func Inject(req Request, vector Vector, payload string) Mutated {
	if req.Cookie != "" {
		hasCookieHeader := false
		for _, h := range req.Headers {
			if strings.EqualFold(h.Name, "Cookie") {
				hasCookieHeader = true
				break
			}
		}
		if !hasCookieHeader {
			req.Headers = append(append([]Header{}, req.Headers...), Header{Name: "Cookie", Value: req.Cookie})
		}
	}
	switch vector.Location {
	case LocationQuery:
		return injectQuery(req, vector.Name, payload)
	case LocationHeader:
		return injectHeader(req, vector.Name, payload)
	case LocationCookie:
		return injectCookie(req, vector.Name, payload)
	case LocationBody:
		return injectFormBody(req, vector.Name, payload)
	case LocationJSON:
		return injectJSONBody(req, vector.Name, payload)
	default:
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
}

// headersToMap flattens req.Headers into the unordered map the outgoing
// transport wants — http.Header.Set doesn't care about assignment order,
// only Request.Headers (the extraction input) needs to stay ordered.
func headersToMap(headers []Header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Name] = h.Value
	}
	return m
}

func injectQuery(req Request, name, payload string) Mutated {
	u, err := url.Parse(req.Path)
	if err != nil {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	if _, ok := values[name]; ok {
		values.Set(name, payload)
	}
	u.RawQuery = values.Encode()
	return Mutated{Path: u.String(), Headers: headersToMap(req.Headers), Body: req.Body}
}

func injectHeader(req Request, name, payload string) Mutated {
	newHeaders := make(map[string]string, len(req.Headers))
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, name) {
			newHeaders[h.Name] = payload
		} else {
			newHeaders[h.Name] = h.Value
		}
	}
	return Mutated{Path: req.Path, Headers: newHeaders, Body: req.Body}
}

func injectCookie(req Request, name, payload string) Mutated {
	cookieHeader := ""
	cookieKey := "Cookie"
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Cookie") {
			cookieHeader = h.Value
			cookieKey = h.Name
			break
		}
	}
	if cookieHeader == "" {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}

	var parts []string
	for _, part := range strings.Split(cookieHeader, ";") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		cname, cvalue, found := strings.Cut(trimmed, "=")
		if !found {
			parts = append(parts, trimmed)
			continue
		}
		cname = strings.TrimSpace(cname)
		if strings.EqualFold(cname, name) {
			parts = append(parts, cname+"="+payload)
		} else {
			parts = append(parts, cname+"="+strings.TrimSpace(cvalue))
		}
	}

	newHeaders := headersToMap(req.Headers)
	newHeaders[cookieKey] = strings.Join(parts, "; ")
	return Mutated{Path: req.Path, Headers: newHeaders, Body: req.Body}
}

func injectFormBody(req Request, name, payload string) Mutated {
	if req.Body == nil {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	values, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	if _, ok := values[name]; ok {
		values.Set(name, payload)
	}
	return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: []byte(values.Encode())}
}

func injectJSONBody(req Request, field, payload string) Mutated {
	if req.Body == nil {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(req.Body, &data); err != nil {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	if _, ok := data[field]; !ok {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	data[field] = encoded
	newBody, err := json.Marshal(data)
	if err != nil {
		return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: req.Body}
	}
	return Mutated{Path: req.Path, Headers: headersToMap(req.Headers), Body: newBody}
}
