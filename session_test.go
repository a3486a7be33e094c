package seleniumpool_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wanmail/seleniumpool"
	"github.com/wanmail/seleniumpool/config"
	"github.com/wanmail/seleniumpool/executor"
	"github.com/wanmail/seleniumpool/internal/seleniumtest"
	"github.com/wanmail/seleniumpool/log"
	"github.com/wanmail/seleniumpool/proxy"
)

// freePort returns a port that was unused a moment ago. The proxy pool skips
// ports taken in the meantime.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func newManager(t *testing.T, cfg *config.Config) *seleniumpool.Manager {
	t.Helper()
	m, err := seleniumpool.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Shutdown(); err != nil {
			t.Errorf("Shutdown() returned error: %v", err)
		}
	})
	return m
}

func fakeConfig(remote *seleniumtest.Remote, proxyTarget string, port int) *config.Config {
	cfg := config.Default()
	cfg.Selenium.URLs = remote.URL()
	cfg.Selenium.Pool = config.Exclusive
	cfg.Proxy.Target = proxyTarget
	cfg.Proxy.PortMin = port
	return cfg
}

func TestFakeRemote(t *testing.T) {
	remote := seleniumtest.NewRemote()
	defer remote.Close()

	seleniumtest.RunCommonTests(t, seleniumtest.Config{
		Addr: remote.URL(),
		NewManager: func(t *testing.T, proxyTarget string) *seleniumpool.Manager {
			return newManager(t, fakeConfig(remote, proxyTarget, freePort(t)))
		},
	})
	if n := remote.Sessions(); n != 0 {
		t.Errorf("%d sessions left open on the remote end", n)
	}
}

func TestFakeRemoteSOCKS(t *testing.T) {
	remote := seleniumtest.NewRemote()
	defer remote.Close()

	seleniumtest.RunCommonTests(t, seleniumtest.Config{
		Addr: remote.URL(),
		NewManager: func(t *testing.T, proxyTarget string) *seleniumpool.Manager {
			cfg := fakeConfig(remote, proxyTarget, freePort(t))
			cfg.Proxy.Kind = config.SOCKS5Proxy
			cfg.Proxy.User, cfg.Proxy.Password = "ci", "s3cret"
			return newManager(t, cfg)
		},
	})
}

func TestOpenAdvertisesProxy(t *testing.T) {
	remote := seleniumtest.NewRemote()
	defer remote.Close()
	port := freePort(t)
	cfg := fakeConfig(remote, "http://aut.example.com:8080", port)
	cfg.Proxy.AdvertisedHost = "10.0.0.7"
	cfg.Selenium.BrowserArguments = "--headless"
	m := newManager(t, cfg)

	ctx := context.Background()
	s, err := m.Open(ctx)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	defer m.Close(ctx, s)

	caps := remote.Capabilities(s.SessionID())
	p, ok := caps["proxy"].(map[string]interface{})
	if !ok {
		t.Fatalf("capabilities carry no proxy: %v", caps)
	}
	want := net.JoinHostPort("10.0.0.7", strconv.Itoa(s.Proxy.Port()))
	if p["proxyType"] != "manual" || p["httpProxy"] != want || p["sslProxy"] != want {
		t.Errorf("proxy capability = %v, want manual HTTP and SSL proxy %s", p, want)
	}
	if got, want := s.Proxy.Target().String(), "aut.example.com:8080"; got != want {
		t.Errorf("proxy target = %q, want %q", got, want)
	}
	if _, ok := caps["goog:chromeOptions"]; !ok {
		t.Errorf("capabilities carry no Chrome options: %v", caps)
	}
	if err := s.SetHeader("X-Test-Case", "login"); err != nil {
		t.Errorf("SetHeader() returned error: %v", err)
	}
	if got := s.Proxy.(*proxy.HTTPProxy).Header().Get("X-Test-Case"); got != "login" {
		t.Errorf("proxy header X-Test-Case = %q, want login", got)
	}
}

func TestOpenReleasesOnFailure(t *testing.T) {
	remote := seleniumtest.NewRemote()
	defer remote.Close()
	m := newManager(t, fakeConfig(remote, "http://aut.example.com", freePort(t)))
	pool := m.Resources().(*seleniumpool.ExclusivePool)

	remote.FailNewSession("browser crashed")
	s, err := m.Open(context.Background())
	if err == nil {
		m.Close(context.Background(), s)
		t.Fatal("Open() returned nil error although the browser did not start")
	}
	var werr *executor.Error
	if !errors.As(err, &werr) || werr.Err != "session not created" || werr.Message != "browser crashed" {
		t.Errorf("Open() returned error %v, want a session not created *executor.Error", err)
	}
	if got, want := pool.Available(), 1; got != want {
		t.Errorf("Available() = %d after a failed Open, want %d", got, want)
	}

	// The proxy went back to the pool too, so the next session reuses it.
	remote.FailNewSession("")
	s, err = m.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	defer m.Close(context.Background(), s)
	if got, want := pool.Available(), 0; got != want {
		t.Errorf("Available() = %d, want %d", got, want)
	}
}

func TestOpenNoResource(t *testing.T) {
	remote := seleniumtest.NewRemote()
	defer remote.Close()
	m := newManager(t, fakeConfig(remote, "", 0))

	s, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	defer m.Close(context.Background(), s)
	if s.Proxy != nil {
		t.Errorf("session has proxy %v although none is configured", s.Proxy)
	}

	// The only endpoint is leased, so a bounded wait gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := m.Open(ctx); !errors.Is(err, seleniumpool.ErrNoResource) {
		t.Errorf("Open() returned error %v, want ErrNoResource", err)
	}
}

func TestCloseResetsProxy(t *testing.T) {
	remote := seleniumtest.NewRemote()
	defer remote.Close()
	m := newManager(t, fakeConfig(remote, "http://aut.example.com", freePort(t)))
	ctx := context.Background()

	s, err := m.Open(ctx)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	p := s.Proxy.(*proxy.HTTPProxy)
	if err := s.SetHeader("X-Tenant", "a"); err != nil {
		t.Fatal(err)
	}
	m.Close(ctx, s)

	if got := p.Header().Get("X-Tenant"); got != "" {
		t.Errorf("header X-Tenant = %q after Close, want it cleared", got)
	}
	if s.Proxy != nil {
		t.Error("closed session still refers to its proxy")
	}
	if n := remote.Sessions(); n != 0 {
		t.Errorf("%d sessions still open on the remote end", n)
	}
}

func TestCloseSurvivesDeadRemote(t *testing.T) {
	remote := seleniumtest.NewRemote()
	m := newManager(t, fakeConfig(remote, "", 0))
	ctx := context.Background()
	s, err := m.Open(ctx)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	remote.Close()

	m.Close(ctx, s)
	if got, want := m.Resources().(*seleniumpool.ExclusivePool).Available(), 1; got != want {
		t.Errorf("Available() = %d after Close, want %d", got, want)
	}
}

func TestSessionLogs(t *testing.T) {
	remote := seleniumtest.NewRemote()
	defer remote.Close()
	m := newManager(t, fakeConfig(remote, "", 0))
	ctx := context.Background()
	s, err := m.Open(ctx)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	defer m.Close(ctx, s)

	remote.AddLog(s.SessionID(), "SEVERE", "Uncaught ReferenceError: x is not defined")
	msgs, err := s.Logs(ctx, log.Browser)
	if err != nil {
		t.Fatalf("Logs() returned error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Level != log.Severe || !strings.Contains(msgs[0].Message, "ReferenceError") {
		t.Errorf("Logs() = %+v, want the one severe entry", msgs)
	}
	if time.Since(msgs[0].Timestamp) > time.Minute {
		t.Errorf("Timestamp = %v, want about now", msgs[0].Timestamp)
	}

	if err := s.SetHeader("X-A", "1"); err == nil {
		t.Error("SetHeader() succeeded on a session without a proxy")
	}
}

func TestNewManagerErrors(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		modify func(*config.Config)
	}{
		{
			desc:   "unknown driver",
			modify: func(c *config.Config) { c.Selenium.Driver = "LYNX" },
		},
		{
			desc:   "bad log level",
			modify: func(c *config.Config) { c.Selenium.BrowserLogLevel = "chatty" },
		},
		{
			desc:   "bad URL",
			modify: func(c *config.Config) { c.Selenium.URLs = "localhost" },
		},
		{
			desc: "remote queue without credentials",
			modify: func(c *config.Config) {
				c.Selenium.Pool = config.RemoteQueue
				c.TAFMS.URL = "http://tafms/api"
			},
		},
	} {
		cfg := config.Default()
		tc.modify(cfg)
		_, err := seleniumpool.NewManager(cfg)
		var cerr *seleniumpool.ConfigError
		if !errors.As(err, &cerr) {
			t.Errorf("%s: NewManager() returned error %v, want *ConfigError", tc.desc, err)
		}
	}
}

func TestNewManagerRemoteQueue(t *testing.T) {
	cfg := config.Default()
	cfg.Selenium.Pool = config.RemoteQueue
	cfg.Selenium.Threads = 4
	cfg.TAFMS = config.TAFMS{URL: "http://tafms.example.com/api", User: "ci", Password: "pw", NiceLevel: 5}
	m := newManager(t, cfg)
	q, ok := m.Resources().(*seleniumpool.RemoteQueue)
	if !ok {
		t.Fatalf("Resources() = %T, want *RemoteQueue", m.Resources())
	}
	if got, want := q.HostCount(), 4; got != want {
		t.Errorf("HostCount() = %d, want %d", got, want)
	}
}
