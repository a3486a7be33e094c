// Package driver builds the desired capabilities for each supported browser.
//
// Browsers are registered under a tag such as "CHROME" with a function
// producing their base capabilities and a list of transforms. Transforms
// adapt the capabilities to the settings of one session, e.g. by adding
// browser arguments or a proxy. A Registry is safe for concurrent use and
// never shares capability maps between sessions.
package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wanmail/seleniumpool/log"
)

// Browser tags.
const (
	Firefox          = "FIREFOX"
	InternetExplorer = "INTERNET_EXPLORER"
	HTMLUnit         = "HTML_UNIT"
	Chrome           = "CHROME"
	Safari           = "SAFARI"
	PhantomJS        = "PHANTOMJS"
)

// Settings are the per-session inputs to capability building.
type Settings struct {
	// Args are extra browser command-line arguments.
	Args []string
	// LogLevel, if set, is applied to the browser log.
	LogLevel log.Level
	// Proxy, if set, is the proxy the browser must use.
	Proxy *Proxy
}

// Transform adapts capabilities to s. It may modify and return c.
type Transform func(c Capabilities, s Settings) Capabilities

type builder struct {
	base       func() Capabilities
	transforms []Transform
}

// Registry maps browser tags to capability builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]*builder
	common   []Transform
}

// NewRegistry returns a registry with the built-in browsers. Logging and
// proxy settings apply to all of them.
func NewRegistry() *Registry {
	r := &Registry{
		builders: make(map[string]*builder),
		common:   []Transform{WithLogLevel, WithProxy},
	}
	r.Register(Firefox, firefoxCaps, firefoxArgs)
	r.Register(InternetExplorer, plain("internet explorer"))
	r.Register(HTMLUnit, htmlUnitCaps)
	r.Register(Chrome, chromeCaps, chromeArgs)
	r.Register(Safari, plain("safari"))
	r.Register(PhantomJS, phantomJSCaps, phantomJSArgs)
	return r
}

// Register adds or replaces the browser tagged name.
func (r *Registry) Register(name string, base func() Capabilities, transforms ...Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = &builder{base: base, transforms: transforms}
}

// Augment appends transforms to a registered browser.
func (r *Registry) Augment(name string, transforms ...Transform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.builders[name]
	if !ok {
		return fmt.Errorf("unsupported Selenium browser name: %s", name)
	}
	b.transforms = append(b.transforms, transforms...)
	return nil
}

// Names returns the registered browser tags in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for n := range r.builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Capabilities builds fresh capabilities for the browser tagged name.
func (r *Registry) Capabilities(name string, s Settings) (Capabilities, error) {
	r.mu.RLock()
	b, ok := r.builders[name]
	var transforms []Transform
	if ok {
		transforms = append(append(transforms, b.transforms...), r.common...)
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported Selenium browser name: %s", name)
	}

	c := b.base()
	for _, t := range transforms {
		c = t(c, s)
	}
	return c, nil
}

// WithLogLevel sets the browser log level.
func WithLogLevel(c Capabilities, s Settings) Capabilities {
	if s.LogLevel != "" {
		c.SetLogLevel(log.Browser, s.LogLevel)
	}
	return c
}

// WithProxy adds the session's proxy.
func WithProxy(c Capabilities, s Settings) Capabilities {
	if s.Proxy != nil {
		c.AddProxy(*s.Proxy)
	}
	return c
}
