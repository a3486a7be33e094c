package seleniumpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/wanmail/seleniumpool/config"
	"github.com/wanmail/seleniumpool/doccache"
	"github.com/wanmail/seleniumpool/driver"
	"github.com/wanmail/seleniumpool/executor"
	"github.com/wanmail/seleniumpool/log"
	"github.com/wanmail/seleniumpool/proxy"
)

// Manager opens and closes browser sessions. It combines a ResourceService,
// an optional pool of local forwarding proxies and the capability registry.
// A Manager is safe for concurrent use.
type Manager struct {
	resources ResourceService
	local     *LocalDriverPool

	proxies        *proxy.Pool
	proxyKind      string
	proxyUser      string
	proxyPassword  string
	advertisedHost string

	registry *driver.Registry
	browser  string
	settings driver.Settings
	execOpts []executor.Option

	docs *doccache.Cache
}

// NewManager builds a Manager from cfg. All configuration problems are
// reported here as a *ConfigError.
func NewManager(cfg *config.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Msg: "invalid configuration", Err: err}
	}

	m := &Manager{
		registry: driver.NewRegistry(),
		browser:  cfg.Selenium.Driver,
		settings: driver.Settings{Args: cfg.BrowserArgs()},
	}
	if cfg.Selenium.BrowserLogLevel != "" {
		level, err := log.ParseLevel(cfg.Selenium.BrowserLogLevel)
		if err != nil {
			return nil, &ConfigError{Msg: "invalid browser log level", Err: err}
		}
		m.settings.LogLevel = level
	}
	if _, err := m.registry.Capabilities(m.browser, m.settings); err != nil {
		return nil, &ConfigError{Msg: "invalid driver", Err: err}
	}

	if d := cfg.TCPTimeout(); d > 0 {
		m.execOpts = append(m.execOpts, executor.RequestTimeout(d))
	}
	headers, err := cfg.Headers()
	if err != nil {
		return nil, &ConfigError{Msg: "invalid additional headers", Err: err}
	}
	if len(headers) > 0 {
		h := make(http.Header)
		for k, v := range headers {
			h.Set(k, v)
		}
		m.execOpts = append(m.execOpts, executor.Headers(h))
	}

	if m.resources, err = newResourceService(cfg); err != nil {
		return nil, err
	}
	if lp, ok := m.resources.(*LocalDriverPool); ok {
		m.local = lp
	}

	if cfg.ProxyEnabled() {
		target, err := proxy.ParseTarget(cfg.Proxy.Target)
		if err != nil {
			return nil, &ConfigError{Msg: "invalid proxy target", Err: err}
		}
		m.proxyKind = cfg.Proxy.Kind
		m.proxyUser, m.proxyPassword = cfg.Proxy.User, cfg.Proxy.Password
		m.advertisedHost = cfg.Proxy.AdvertisedHost
		var factory proxy.Factory
		switch cfg.Proxy.Kind {
		case config.SOCKS5Proxy:
			var users map[string]string
			if cfg.Proxy.User != "" {
				users = map[string]string{cfg.Proxy.User: cfg.Proxy.Password}
			}
			factory = proxy.SOCKSFactory(users)
		default:
			var opts []proxy.HTTPOption
			if cfg.Proxy.User != "" {
				opts = append(opts, proxy.Credentials(cfg.Proxy.User, cfg.Proxy.Password))
			}
			factory = proxy.HTTPFactory(opts...)
		}
		m.proxies = proxy.NewPool(target, cfg.Proxy.PortMin, factory)
	}

	if m.docs, err = doccache.New(cfg.DocCacheSize); err != nil {
		return nil, &ConfigError{Msg: "invalid document cache size", Err: err}
	}
	return m, nil
}

func newResourceService(cfg *config.Config) (ResourceService, error) {
	endpoints := func() ([]*Endpoint, error) {
		var all []*Endpoint
		for _, u := range cfg.URLs() {
			e, err := ParseEndpoint(u)
			if err != nil {
				return nil, err
			}
			all = append(all, e)
		}
		return all, nil
	}

	switch cfg.Selenium.Pool {
	case config.Exclusive:
		all, err := endpoints()
		if err != nil {
			return nil, err
		}
		return NewExclusivePool(all), nil
	case config.RemoteQueue:
		return NewRemoteQueue(RemoteQueueConfig{
			BaseURL:   cfg.TAFMS.URL,
			User:      cfg.TAFMS.User,
			Password:  cfg.TAFMS.Password,
			NiceLevel: cfg.TAFMS.NiceLevel,
			JobName:   cfg.TAFMS.JobName,
			MaxPolls:  cfg.TAFMS.MaxPolls,
			Threads:   cfg.Selenium.Threads,
		})
	case config.Local:
		var opts []ServiceOption
		if cfg.Local.StartFrameBuffer {
			opts = append(opts, StartFrameBuffer())
		}
		if cfg.Local.ChromeDriver != "" {
			opts = append(opts, ChromeDriver(cfg.Local.ChromeDriver))
		}
		if cfg.Local.GeckoDriver != "" {
			opts = append(opts, GeckoDriver(cfg.Local.GeckoDriver))
		}
		if cfg.Local.JavaPath != "" {
			opts = append(opts, JavaPath(cfg.Local.JavaPath))
		}
		return NewLocalDriverPool(cfg.Local.Kind, cfg.Local.Path, opts...)
	default:
		all, err := endpoints()
		if err != nil {
			return nil, err
		}
		return NewRoundRobinPool(all), nil
	}
}

// Registry returns the capability registry, e.g. to augment a browser.
func (m *Manager) Registry() *driver.Registry {
	return m.registry
}

// Resources returns the service that hands out endpoints.
func (m *Manager) Resources() ResourceService {
	return m.resources
}

// Session is one browser session on a leased endpoint.
type Session struct {
	// ID identifies the lease in logs. It is not the WebDriver session ID.
	ID       string
	Endpoint *Endpoint
	// Proxy is the local proxy the browser uses, or nil.
	Proxy        proxy.Instance
	Capabilities driver.Capabilities

	m         *Manager
	exec      *executor.Executor
	sessionID string
	released  bool
}

// Open leases an endpoint and a proxy and starts a browser session on it.
// It returns ErrNoResource if the resource service granted nothing. On
// failure everything leased so far is released again.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	e, err := m.resources.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNoResource
	}
	s := &Session{ID: uuid.NewString(), Endpoint: e, m: m}

	if err := m.open(ctx, s); err != nil {
		m.release(s)
		return nil, err
	}
	glog.Infof("session %s: opened WebDriver session %s on %s", s.ID, s.sessionID, e)
	return s, nil
}

func (m *Manager) open(ctx context.Context, s *Session) error {
	settings := m.settings
	if m.proxies != nil {
		inst, err := m.proxies.Acquire()
		if err != nil {
			return err
		}
		s.Proxy = inst
		settings.Proxy = m.advertise(inst)
	}

	caps, err := m.registry.Capabilities(m.browser, settings)
	if err != nil {
		return err
	}
	s.Capabilities = caps

	ex, err := executor.New(s.Endpoint.String(), m.execOpts...)
	if err != nil {
		return err
	}
	s.exec = ex
	resp, err := ex.Execute(ctx, &executor.Command{
		Name:   executor.CommandNewSession,
		Params: map[string]interface{}{"desiredCapabilities": caps},
	})
	if err != nil {
		glog.Errorf("session %s: could not start browser on %s; last response: %s", s.ID, s.Endpoint, ex.LastResponse())
		return fmt.Errorf("starting browser session on %s: %w", s.Endpoint, err)
	}
	if resp.SessionID == "" {
		return fmt.Errorf("starting browser session on %s: remote end returned no session ID", s.Endpoint)
	}
	s.sessionID = resp.SessionID
	return nil
}

// advertise describes inst as the browser must see it.
func (m *Manager) advertise(inst proxy.Instance) *driver.Proxy {
	addr := net.JoinHostPort(m.advertisedHost, strconv.Itoa(inst.Port()))
	if m.proxyKind == config.SOCKS5Proxy {
		return &driver.Proxy{
			Type:          driver.Manual,
			SOCKS:         addr,
			SOCKSVersion:  5,
			SOCKSUsername: m.proxyUser,
			SOCKSPassword: m.proxyPassword,
		}
	}
	return &driver.Proxy{Type: driver.Manual, HTTP: addr, SSL: addr}
}

// Close quits the browser session and releases the proxy and the endpoint.
// It never fails; problems are logged.
func (m *Manager) Close(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	if s.sessionID != "" {
		if _, err := s.Execute(ctx, executor.CommandQuit, nil); err != nil {
			glog.Warningf("session %s: quitting browser on %s: %v", s.ID, s.Endpoint, err)
		}
		s.sessionID = ""
	}
	m.release(s)
	glog.Infof("session %s: closed", s.ID)
}

func (m *Manager) release(s *Session) {
	if s.released {
		return
	}
	s.released = true
	if s.Proxy != nil {
		m.proxies.Release(s.Proxy)
		s.Proxy = nil
	}
	if s.Endpoint != nil {
		m.resources.Release(s.Endpoint)
	}
}

// Shutdown stops the proxies and local driver services owned by m. Sessions
// still open become unusable.
func (m *Manager) Shutdown() error {
	if m.local != nil {
		m.local.Close()
	}
	if m.proxies != nil {
		return m.proxies.Close()
	}
	return nil
}

// SessionID returns the WebDriver session ID, or "" once the session was
// closed.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Executor returns the executor bound to the session's endpoint.
func (s *Session) Executor() *executor.Executor {
	return s.exec
}

// Execute runs the named command in the session.
func (s *Session) Execute(ctx context.Context, name string, params map[string]interface{}) (*executor.Response, error) {
	return s.exec.Execute(ctx, &executor.Command{SessionID: s.sessionID, Name: name, Params: params})
}

// SetHeader adds a header to every request the browser sends through its
// proxy. It fails if the session has no HTTP proxy.
func (s *Session) SetHeader(name, value string) error {
	p, ok := s.Proxy.(*proxy.HTTPProxy)
	if !ok {
		return errors.New("session has no HTTP proxy to add headers to")
	}
	p.SetHeader(name, value)
	return nil
}

// PageSource returns the HTML of the current page.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	resp, err := s.Execute(ctx, "getPageSource", nil)
	if err != nil {
		return "", err
	}
	var src string
	if err := json.Unmarshal(resp.Raw, &src); err != nil {
		return "", fmt.Errorf("decoding page source: %w", err)
	}
	return src, nil
}

// EvalXPath evaluates expr against the current page source.
func (s *Session) EvalXPath(ctx context.Context, expr string) ([]*html.Node, error) {
	src, err := s.PageSource(ctx)
	if err != nil {
		return nil, err
	}
	return s.m.docs.Eval(expr, src)
}

// EvalXPathString evaluates expr against the current page source and
// converts the result to a string.
func (s *Session) EvalXPathString(ctx context.Context, expr string) (string, error) {
	src, err := s.PageSource(ctx)
	if err != nil {
		return "", err
	}
	return s.m.docs.EvalString(expr, src)
}

// Logs fetches the log entries of type typ collected since the last call.
func (s *Session) Logs(ctx context.Context, typ log.Type) ([]log.Message, error) {
	resp, err := s.Execute(ctx, "getLog", map[string]interface{}{"type": typ})
	if err != nil {
		return nil, err
	}
	var msgs []log.Message
	if err := json.Unmarshal(resp.Raw, &msgs); err != nil {
		return nil, fmt.Errorf("decoding %s log: %w", typ, err)
	}
	return msgs, nil
}
