package driver

import (
	"github.com/wanmail/seleniumpool/chrome"
	"github.com/wanmail/seleniumpool/firefox"
	"github.com/wanmail/seleniumpool/log"
)

// Capabilities configures both the WebDriver process and the target browsers,
// with standard and browser-specific options.
type Capabilities map[string]interface{}

// BrowserName returns the "browserName" entry, or "".
func (c Capabilities) BrowserName() string {
	s, _ := c["browserName"].(string)
	return s
}

// AddChrome adds Chrome-specific capabilities.
func (c Capabilities) AddChrome(f chrome.Capabilities) {
	c[chrome.CapabilitiesKey] = f
	c[chrome.DeprecatedCapabilitiesKey] = f
}

// Chrome returns the Chrome-specific capabilities, if any.
func (c Capabilities) Chrome() (chrome.Capabilities, bool) {
	f, ok := c[chrome.CapabilitiesKey].(chrome.Capabilities)
	return f, ok
}

// AddFirefox adds Firefox-specific capabilities.
func (c Capabilities) AddFirefox(f firefox.Capabilities) {
	c[firefox.CapabilitiesKey] = f
}

// Firefox returns the Firefox-specific capabilities, if any.
func (c Capabilities) Firefox() (firefox.Capabilities, bool) {
	f, ok := c[firefox.CapabilitiesKey].(firefox.Capabilities)
	return f, ok
}

// AddProxy adds proxy configuration to the capabilities.
func (c Capabilities) AddProxy(p Proxy) {
	c["proxy"] = p
}

// AddLogging adds logging configuration to the capabilities.
func (c Capabilities) AddLogging(l log.Capabilities) {
	c[log.CapabilitiesKey] = l
	c[log.LegacyCapabilitiesKey] = l
}

// SetLogLevel sets the logging level of a component. It is a shortcut for
// passing a log.Capabilities instance to AddLogging.
func (c Capabilities) SetLogLevel(typ log.Type, level log.Level) {
	m, ok := c[log.CapabilitiesKey].(log.Capabilities)
	if !ok {
		m = make(log.Capabilities)
		c.AddLogging(m)
	}
	m[typ] = level
}

// Clone returns a shallow copy of c.
func (c Capabilities) Clone() Capabilities {
	out := make(Capabilities, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Proxy specifies configuration for proxies in the browser. Set the key
// "proxy" in Capabilities to an instance of this type.
type Proxy struct {
	// Type is the type of proxy to use. This is required to be populated.
	Type ProxyType `json:"proxyType"`

	// AutoconfigURL is the URL to be used for proxy auto configuration. This is
	// required if Type is set to PAC.
	AutoconfigURL string `json:"proxyAutoconfigUrl,omitempty"`

	// The following are used when Type is set to Manual.
	//
	// Note that in Firefox, connections to localhost are not proxied by default,
	// even if a proxy is set. This can be overridden via a preference setting.
	HTTP          string   `json:"httpProxy,omitempty"`
	SSL           string   `json:"sslProxy,omitempty"`
	SOCKS         string   `json:"socksProxy,omitempty"`
	SOCKSVersion  int      `json:"socksVersion,omitempty"`
	SOCKSUsername string   `json:"socksUsername,omitempty"`
	SOCKSPassword string   `json:"socksPassword,omitempty"`
	NoProxy       []string `json:"noProxy,omitempty"`
}

// ProxyType is an enumeration of the types of proxies available.
type ProxyType string

const (
	// Direct connection - no proxy in use.
	Direct ProxyType = "direct"
	// Manual proxy settings configured, e.g. setting a proxy for HTTP, a proxy
	// for FTP, etc.
	Manual ProxyType = "manual"
	// Autodetect proxy, probably with WPAD
	Autodetect ProxyType = "autodetect"
	// System settings used.
	System ProxyType = "system"
	// PAC - Proxy autoconfiguration from a URL.
	PAC ProxyType = "pac"
)
