// Package config loads the YAML configuration of a session manager.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolKind selects the strategy that hands out Selenium endpoints.
type PoolKind string

// Pool kinds.
const (
	RoundRobin  PoolKind = "roundrobin"
	Exclusive   PoolKind = "exclusive"
	RemoteQueue PoolKind = "remotequeue"
	Local       PoolKind = "local"
)

// Proxy kinds.
const (
	HTTPProxy   = "http"
	SOCKS5Proxy = "socks5"
)

// Local driver kinds.
const (
	ChromeDriver   = "chromedriver"
	GeckoDriver    = "geckodriver"
	SeleniumServer = "selenium"
)

// Defaults.
const (
	DefaultURL          = "http://localhost:4444/wd/hub"
	DefaultDriver       = "CHROME"
	DefaultLogLevel     = "error"
	DefaultTCPTimeoutMS = 5000
	DefaultPortMin      = 19600
	DefaultDocCacheSize = 50
)

// Config is the complete configuration.
type Config struct {
	Selenium     Selenium    `yaml:"selenium"`
	Proxy        Proxy       `yaml:"proxy"`
	TAFMS        TAFMS       `yaml:"tafms"`
	Local        LocalDriver `yaml:"local"`
	DocCacheSize int         `yaml:"docCacheSize"`
}

// Selenium configures how sessions are created.
type Selenium struct {
	// URLs is a comma-separated list of remote WebDriver endpoints.
	URLs             string   `yaml:"urls"`
	Pool             PoolKind `yaml:"pool"`
	Driver           string   `yaml:"driver"`
	BrowserArguments string   `yaml:"browserArguments"`
	BrowserLogLevel  string   `yaml:"browserLogLevel"`
	// TCPTimeout is the socket timeout in milliseconds. Zero means the
	// protocol default.
	TCPTimeout int `yaml:"tcpTimeout"`
	// AdditionalHeaders is a list of name=value pairs separated by ';'.
	AdditionalHeaders string `yaml:"additionalHeaders"`
	Threads           int    `yaml:"threads"`
}

// Proxy configures the pool of local forwarding proxies.
type Proxy struct {
	Enabled bool   `yaml:"enabled"`
	Kind    string `yaml:"kind"`
	// Target is the server all proxies forward to. Without a target no proxy
	// is used even if Enabled is set.
	Target  string `yaml:"target"`
	PortMin int    `yaml:"portMin"`
	// AdvertisedHost is the host name browsers use to reach the proxies.
	AdvertisedHost string `yaml:"advertisedHost"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
}

// TAFMS configures the remote resource queue.
type TAFMS struct {
	URL       string `yaml:"url"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	NiceLevel int    `yaml:"niceLevel"`
	JobName   string `yaml:"jobName"`
	MaxPolls  int    `yaml:"maxPolls"`
}

// LocalDriver configures driver services started on this machine.
type LocalDriver struct {
	Kind string `yaml:"kind"`
	// Path is the driver binary, or the Selenium server JAR.
	Path             string `yaml:"path"`
	ChromeDriver     string `yaml:"chromeDriver"`
	GeckoDriver      string `yaml:"geckoDriver"`
	JavaPath         string `yaml:"javaPath"`
	StartFrameBuffer bool   `yaml:"startFrameBuffer"`
}

// Default returns the configuration used for keys missing from a file.
func Default() *Config {
	return &Config{
		Selenium: Selenium{
			URLs:            DefaultURL,
			Pool:            RoundRobin,
			Driver:          DefaultDriver,
			BrowserLogLevel: DefaultLogLevel,
			TCPTimeout:      DefaultTCPTimeoutMS,
			Threads:         1,
		},
		Proxy: Proxy{
			Enabled:        true,
			Kind:           HTTPProxy,
			PortMin:        DefaultPortMin,
			AdvertisedHost: "localhost",
		},
		Local:        LocalDriver{Kind: ChromeDriver},
		DocCacheSize: DefaultDocCacheSize,
	}
}

// Load reads and validates the file at path. ${VAR} references are expanded
// from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	switch c.Selenium.Pool {
	case RoundRobin, Exclusive, Local:
	case RemoteQueue:
		if err := checkURL("tafms.url", c.TAFMS.URL); err != nil {
			errs = append(errs, err)
		}
		if c.TAFMS.User == "" || c.TAFMS.Password == "" {
			errs = append(errs, errors.New("tafms.user and tafms.password are required"))
		}
		if c.TAFMS.NiceLevel < -20 || c.TAFMS.NiceLevel > 19 {
			errs = append(errs, fmt.Errorf("tafms.niceLevel %d is not within -20..19", c.TAFMS.NiceLevel))
		}
		if c.TAFMS.MaxPolls < 0 {
			errs = append(errs, fmt.Errorf("tafms.maxPolls must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown selenium.pool %q", c.Selenium.Pool))
	}

	for _, u := range c.URLs() {
		if err := checkURL("selenium.urls", u); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Selenium.Driver == "" {
		errs = append(errs, errors.New("selenium.driver is required"))
	}
	if c.Selenium.TCPTimeout < 0 {
		errs = append(errs, errors.New("selenium.tcpTimeout must not be negative"))
	}
	if c.Selenium.Threads < 1 {
		errs = append(errs, errors.New("selenium.threads must be at least 1"))
	}
	if _, err := c.Headers(); err != nil {
		errs = append(errs, err)
	}

	if c.ProxyEnabled() {
		switch c.Proxy.Kind {
		case HTTPProxy, SOCKS5Proxy:
		default:
			errs = append(errs, fmt.Errorf("unknown proxy.kind %q", c.Proxy.Kind))
		}
		if err := checkURL("proxy.target", c.Proxy.Target); err != nil {
			errs = append(errs, err)
		}
		if c.Proxy.PortMin <= 0 || c.Proxy.PortMin > 65535 {
			errs = append(errs, fmt.Errorf("proxy.portMin %d is not a valid port", c.Proxy.PortMin))
		}
	}

	if c.Selenium.Pool == Local {
		switch c.Local.Kind {
		case ChromeDriver, GeckoDriver, SeleniumServer:
		default:
			errs = append(errs, fmt.Errorf("unknown local.kind %q", c.Local.Kind))
		}
		if c.Local.Path == "" {
			errs = append(errs, errors.New("local.path is required"))
		}
	}
	return errors.Join(errs...)
}

func checkURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %w", key, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: invalid URL %q: scheme and host are required", key, raw)
	}
	return nil
}

// URLs returns the trimmed, non-empty entries of selenium.urls.
func (c *Config) URLs() []string {
	var urls []string
	for _, u := range strings.Split(c.Selenium.URLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ProxyEnabled reports whether sessions are routed through local proxies.
func (c *Config) ProxyEnabled() bool {
	return c.Proxy.Enabled && c.Proxy.Target != ""
}

// Headers parses selenium.additionalHeaders.
func (c *Config) Headers() (map[string]string, error) {
	h := make(map[string]string)
	for _, pair := range strings.Split(c.Selenium.AdditionalHeaders, ";") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("selenium.additionalHeaders: %q is not of the form name=value", pair)
		}
		h[name] = strings.TrimSpace(value)
	}
	return h, nil
}

// BrowserArgs splits selenium.browserArguments on white space.
func (c *Config) BrowserArgs() []string {
	return strings.Fields(c.Selenium.BrowserArguments)
}

// TCPTimeout returns the socket timeout, or zero for the protocol default.
func (c *Config) TCPTimeout() time.Duration {
	return time.Duration(c.Selenium.TCPTimeout) * time.Millisecond
}
