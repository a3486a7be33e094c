package seleniumpool

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultURL is used when no Selenium URLs are configured explicitly.
const DefaultURL = "http://localhost:4444/wd/hub"

// Endpoint is the address of one remote WebDriver server. It is immutable
// once parsed.
type Endpoint struct {
	raw string
	u   url.URL
}

// ParseEndpoint parses an absolute URL such as "http://host:4444/wd/hub".
func ParseEndpoint(s string) (*Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("invalid Selenium URL %q", s), Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Msg: fmt.Sprintf("invalid Selenium URL %q: scheme and host are required", s)}
	}
	return &Endpoint{raw: u.String(), u: *u}, nil
}

// ParseEndpoints parses a comma-separated list of URLs. Surrounding
// whitespace is ignored; an empty list yields no endpoints.
func ParseEndpoints(list string) ([]*Endpoint, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var endpoints []*Endpoint
	for _, s := range strings.Split(list, ",") {
		e, err := ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, nil
}

// String returns the canonical form of the URL. It is also the key under
// which leases and remote request IDs are tracked.
func (e *Endpoint) String() string {
	if e == nil {
		return "<nil>"
	}
	return e.raw
}

// URL returns a copy of the parsed URL.
func (e *Endpoint) URL() *url.URL {
	u := e.u
	if e.u.User != nil {
		user := *e.u.User
		u.User = &user
	}
	return &u
}

// Host returns the host, or host:port, of the endpoint.
func (e *Endpoint) Host() string {
	return e.u.Host
}

// Equal reports whether both endpoints denote the same URL.
func (e *Endpoint) Equal(o *Endpoint) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.raw == o.raw
}
