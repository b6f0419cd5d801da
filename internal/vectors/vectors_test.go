package vectors

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractOrdering(t *testing.T) {
	req := Request{
		Method: "POST",
		Path:   "/search?q=hello&page=1",
		Headers: []Header{
			{Name: "User-Agent", Value: "curl/8.0"},
			{Name: "X-Unknown", Value: "ignored"},
			{Name: "Cookie", Value: "session=abc; theme=dark"},
			{Name: "Content-Type", Value: "application/x-www-form-urlencoded"},
		},
		Body: []byte("name=bob&role=admin"),
	}

	got := Extract(req)
	require.Len(t, got, 7)

	assert.Equal(t, Vector{Location: LocationQuery, Name: "q", OriginalValue: "hello"}, got[0])
	assert.Equal(t, Vector{Location: LocationQuery, Name: "page", OriginalValue: "1"}, got[1])
	assert.Equal(t, LocationHeader, got[2].Location)
	assert.Equal(t, "User-Agent", got[2].Name)
	assert.Equal(t, Vector{Location: LocationCookie, Name: "session", OriginalValue: "abc"}, got[3])
	assert.Equal(t, Vector{Location: LocationCookie, Name: "theme", OriginalValue: "dark"}, got[4])
	assert.Equal(t, Vector{Location: LocationBody, Name: "name", OriginalValue: "bob"}, got[5])
	assert.Equal(t, Vector{Location: LocationBody, Name: "role", OriginalValue: "admin"}, got[6])
}

// TestExtractHeadersFixedOrder exercises multiple allowlisted headers at
// once, so a regression back to iterating a map (randomized order) would
// make this flaky across runs instead of a one-header case that can't
// distinguish fixed order from luck.
func TestExtractHeadersFixedOrder(t *testing.T) {
	req := Request{
		Path: "/",
		Headers: []Header{
			{Name: "Origin", Value: "https://a.example"},
			{Name: "User-Agent", Value: "curl/8.0"},
			{Name: "Referer", Value: "https://b.example"},
			{Name: "X-Forwarded-For", Value: "10.0.0.1"},
		},
	}

	for i := 0; i < 5; i++ {
		got := Extract(req)
		require.Len(t, got, 4)
		assert.Equal(t, "Origin", got[0].Name)
		assert.Equal(t, "User-Agent", got[1].Name)
		assert.Equal(t, "Referer", got[2].Name)
		assert.Equal(t, "X-Forwarded-For", got[3].Name)
	}
}

func TestExtractHeadersOnlyAllowlisted(t *testing.T) {
	req := Request{
		Path: "/",
		Headers: []Header{
			{Name: "Authorization", Value: "Bearer token"},
			{Name: "Referer", Value: "http://example.com"},
		},
	}
	got := Extract(req)
	require.Len(t, got, 1)
	assert.Equal(t, "Referer", got[0].Name)
}

func TestExtractJSONBody(t *testing.T) {
	req := Request{
		Path:        "/",
		ContentType: "application/json",
		Body:        []byte(`{"username":"bob","age":30,"role":"admin"}`),
	}
	got := Extract(req)
	require.Len(t, got, 2)
	assert.Equal(t, Vector{Location: LocationJSON, Name: "username", OriginalValue: "bob"}, got[0])
	assert.Equal(t, Vector{Location: LocationJSON, Name: "role", OriginalValue: "admin"}, got[1])
}

func TestExtractNoQuery(t *testing.T) {
	req := Request{Path: "/no-query-here"}
	assert.Empty(t, Extract(req))
}

func TestInjectQuery(t *testing.T) {
	req := Request{Path: "/search?q=hello&page=1"}
	mutated := Inject(req, Vector{Location: LocationQuery, Name: "q"}, "PAYLOAD")
	u, err := url.Parse(mutated.Path)
	require.NoError(t, err)
	assert.Equal(t, "PAYLOAD", u.Query().Get("q"))
	assert.Equal(t, "1", u.Query().Get("page"))
}

func TestInjectHeaderPreservesOthers(t *testing.T) {
	req := Request{
		Path: "/",
		Headers: []Header{
			{Name: "User-Agent", Value: "curl/8.0"},
			{Name: "Accept", Value: "*/*"},
		},
	}
	mutated := Inject(req, Vector{Location: LocationHeader, Name: "User-Agent"}, "PAYLOAD")
	assert.Equal(t, "PAYLOAD", mutated.Headers["User-Agent"])
	assert.Equal(t, "*/*", mutated.Headers["Accept"])
}

func TestInjectCookiePreservesOthers(t *testing.T) {
	req := Request{
		Path:    "/",
		Headers: []Header{{Name: "Cookie", Value: "session=abc; theme=dark"}},
	}
	mutated := Inject(req, Vector{Location: LocationCookie, Name: "theme"}, "PAYLOAD")
	assert.Equal(t, "session=abc; theme=PAYLOAD", mutated.Headers["Cookie"])
}

func TestInjectCookieMissingHeaderIsNoop(t *testing.T) {
	req := Request{Path: "/"}
	mutated := Inject(req, Vector{Location: LocationCookie, Name: "theme"}, "PAYLOAD")
	assert.Equal(t, req.Path, mutated.Path)
	assert.Empty(t, mutated.Headers)
}

func TestInjectFormBody(t *testing.T) {
	req := Request{Path: "/", Body: []byte("name=bob&role=user")}
	mutated := Inject(req, Vector{Location: LocationBody, Name: "role"}, "admin")
	values, err := url.ParseQuery(string(mutated.Body))
	require.NoError(t, err)
	assert.Equal(t, "admin", values.Get("role"))
	assert.Equal(t, "bob", values.Get("name"))
}

func TestInjectJSONBody(t *testing.T) {
	req := Request{Path: "/", Body: []byte(`{"username":"bob","role":"user"}`)}
	mutated := Inject(req, Vector{Location: LocationJSON, Name: "role"}, "admin")
	assert.Contains(t, string(mutated.Body), `"role":"admin"`)
	assert.Contains(t, string(mutated.Body), `"username":"bob"`)
}

func TestInjectJSONBodyMissingFieldIsNoop(t *testing.T) {
	req := Request{Path: "/", Body: []byte(`{"username":"bob"}`)}
	mutated := Inject(req, Vector{Location: LocationJSON, Name: "role"}, "admin")
	assert.Equal(t, req.Body, mutated.Body)
}
