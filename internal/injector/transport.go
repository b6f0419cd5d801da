package injector

import (
	"crypto/tls"
	"net/url"
)

// insecureTLSConfig disables certificate verification, matching the
// verify_ssl=False option the Python original exposes for testing against
// self-signed targets (spec.md §6).
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}

func parseProxyURL(raw string) (*url.URL, error) {
	return url.Parse(raw)
}
