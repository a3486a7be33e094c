package seleniumtest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wanmail/seleniumpool"
	"github.com/wanmail/seleniumpool/executor"
	"github.com/wanmail/seleniumpool/log"
)

// PageTitle is the title of the page served to the tests.
const PageTitle = "Go Selenium Test Suite"

const page = `<html>
<head>
  <title>Go Selenium Test Suite</title>
</head>
<body>
  The home page.
  <ul id="items">
    <li class="item">one</li>
    <li class="item">two</li>
    <li class="item">three</li>
  </ul>
</body>
</html>`

const proxyPageContents = "You are viewing a proxied page"

// Config describes the remote end under test.
type Config struct {
	// Addr is the WebDriver URL of the remote end.
	Addr string
	// NewManager returns a manager that opens sessions on Addr. If
	// proxyTarget is not empty, sessions must be routed through local proxies
	// forwarding to it.
	NewManager func(t *testing.T, proxyTarget string) *seleniumpool.Manager
	SkipProxy  bool
}

func runTest(f func(*testing.T, Config), c Config) func(*testing.T) {
	return func(t *testing.T) {
		f(t, c)
	}
}

// RunCommonTests runs the tests every remote end must pass.
func RunCommonTests(t *testing.T, c Config) {
	t.Run("Status", runTest(testStatus, c))
	t.Run("OpenClose", runTest(testOpenClose, c))
	t.Run("PageSource", runTest(testPageSource, c))
	t.Run("XPath", runTest(testXPath, c))
	t.Run("Log", runTest(testLog, c))
	if !c.SkipProxy {
		t.Run("Proxy", runTest(testProxy, c))
	}
}

func serve(t *testing.T, body string) *httptest.Server {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func open(t *testing.T, m *seleniumpool.Manager) *seleniumpool.Session {
	t.Helper()
	s, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("m.Open() returned error: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background(), s) })
	return s
}

func get(t *testing.T, s *seleniumpool.Session, u string) {
	t.Helper()
	if _, err := s.Execute(context.Background(), "get", map[string]interface{}{"url": u}); err != nil {
		t.Fatalf("get %q returned error: %v", u, err)
	}
}

func testStatus(t *testing.T, c Config) {
	e, err := executor.New(c.Addr)
	if err != nil {
		t.Fatalf("executor.New(%q) returned error: %v", c.Addr, err)
	}
	status, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() returned error: %v", err)
	}
	if len(status.OS.Name) == 0 && status.Message == "" {
		t.Fatalf("OS.Name or Message not provided: %+v", status)
	}
}

func testOpenClose(t *testing.T, c Config) {
	m := c.NewManager(t, "")
	s, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("m.Open() returned error: %v", err)
	}
	if s.SessionID() == "" {
		t.Error("SessionID() is empty after Open")
	}
	if s.ID == "" || s.ID == s.SessionID() {
		t.Errorf("lease ID = %q, want a fresh ID distinct from the WebDriver session", s.ID)
	}
	m.Close(context.Background(), s)
	if id := s.SessionID(); id != "" {
		t.Errorf("SessionID() = %q after Close, want empty", id)
	}
	// A second Close is harmless.
	m.Close(context.Background(), s)
}

func testPageSource(t *testing.T, c Config) {
	srv := serve(t, page)
	s := open(t, c.NewManager(t, ""))
	get(t, s, srv.URL)

	src, err := s.PageSource(context.Background())
	if err != nil {
		t.Fatalf("PageSource() returned error: %v", err)
	}
	if !strings.Contains(src, "The home page.") {
		t.Fatalf("PageSource() = %q, want it to contain the page body", src)
	}
}

func testXPath(t *testing.T, c Config) {
	srv := serve(t, page)
	s := open(t, c.NewManager(t, ""))
	get(t, s, srv.URL)

	title, err := s.EvalXPathString(context.Background(), "//title")
	if err != nil {
		t.Fatalf("EvalXPathString() returned error: %v", err)
	}
	if title != PageTitle {
		t.Errorf("EvalXPathString(//title) = %q, want %q", title, PageTitle)
	}
	nodes, err := s.EvalXPath(context.Background(), "//li[@class='item']")
	if err != nil {
		t.Fatalf("EvalXPath() returned error: %v", err)
	}
	if got, want := len(nodes), 3; got != want {
		t.Errorf("EvalXPath() returned %d nodes, want %d", got, want)
	}
}

func testLog(t *testing.T, c Config) {
	s := open(t, c.NewManager(t, ""))
	if _, err := s.Logs(context.Background(), log.Browser); err != nil {
		t.Fatalf("Logs(%q) returned error: %v", log.Browser, err)
	}
}

func testProxy(t *testing.T, c Config) {
	target := serve(t, proxyPageContents)
	direct := serve(t, page)
	s := open(t, c.NewManager(t, target.URL))
	if s.Proxy == nil {
		t.Fatal("session has no proxy")
	}

	// The browser asks for the direct server but must be routed to the target.
	get(t, s, direct.URL)
	src, err := s.PageSource(context.Background())
	if err != nil {
		t.Fatalf("PageSource() returned error: %v", err)
	}
	if !strings.Contains(src, proxyPageContents) {
		if strings.Contains(src, PageTitle) {
			t.Fatal("Got non-proxied page.")
		}
		t.Fatalf("Got page: %s\n\nExpected: %q", src, proxyPageContents)
	}
}
