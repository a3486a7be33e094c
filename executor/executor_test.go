package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blang/semver"
	"github.com/google/go-cmp/cmp"
)

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(code)
	fmt.Fprint(w, body)
}

func newTestExecutor(t *testing.T, h http.Handler, opts ...Option) (*Executor, *httptest.Server) {
	t.Helper()
	s := httptest.NewServer(h)
	t.Cleanup(s.Close)
	e, err := New(s.URL+"/wd/hub", append([]Option{RetryBackoff(10 * time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatalf("New(%q) returned error: %v", s.URL, err)
	}
	return e, s
}

func TestEncode(t *testing.T) {
	for _, tc := range []struct {
		desc       string
		cmd        Command
		wantMethod string
		wantPath   string
		wantBody   map[string]interface{}
		wantErr    bool
	}{
		{
			desc:       "new session",
			cmd:        Command{Name: CommandNewSession, Params: map[string]interface{}{"desiredCapabilities": map[string]interface{}{"browserName": "chrome"}}},
			wantMethod: "POST",
			wantPath:   "/session",
			wantBody:   map[string]interface{}{"desiredCapabilities": map[string]interface{}{"browserName": "chrome"}},
		},
		{
			desc:       "session parameter",
			cmd:        Command{SessionID: "abc", Name: "getTitle"},
			wantMethod: "GET",
			wantPath:   "/session/abc/title",
			wantBody:   map[string]interface{}{},
		},
		{
			desc:       "path parameters are consumed",
			cmd:        Command{SessionID: "abc", Name: "getElementAttribute", Params: map[string]interface{}{"id": "el-1", "name": "href", "extra": true}},
			wantMethod: "GET",
			wantPath:   "/session/abc/element/el-1/attribute/href",
			wantBody:   map[string]interface{}{"extra": true},
		},
		{
			desc:       "path parameters are escaped",
			cmd:        Command{SessionID: "abc", Name: "deleteCookie", Params: map[string]interface{}{"name": "a/b c"}},
			wantMethod: "DELETE",
			wantPath:   "/session/abc/cookie/a%2Fb%20c",
			wantBody:   map[string]interface{}{},
		},
		{
			desc:       "css property",
			cmd:        Command{SessionID: "abc", Name: "getElementValueOfCssProperty", Params: map[string]interface{}{"id": 7, "propertyName": "color"}},
			wantMethod: "GET",
			wantPath:   "/session/abc/element/7/css/color",
			wantBody:   map[string]interface{}{},
		},
		{
			desc:    "missing path parameter",
			cmd:     Command{SessionID: "abc", Name: "maximizeWindow"},
			wantErr: true,
		},
		{
			desc:    "unknown command",
			cmd:     Command{SessionID: "abc", Name: "teleport"},
			wantErr: true,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			method, path, body, err := encode(&tc.cmd)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("encode(%+v) succeeded, want error", tc.cmd)
				}
				return
			}
			if err != nil {
				t.Fatalf("encode(%+v) returned error: %v", tc.cmd, err)
			}
			if method != tc.wantMethod || path != tc.wantPath {
				t.Errorf("encode(%+v) = %s %s, want %s %s", tc.cmd, method, path, tc.wantMethod, tc.wantPath)
			}
			if diff := cmp.Diff(tc.wantBody, body); diff != "" {
				t.Errorf("encode(%+v) body returned diff (-want/+got):\n%s", tc.cmd, diff)
			}
		})
	}
}

func TestNewSession(t *testing.T) {
	for _, tc := range []struct {
		desc  string
		reply string
	}{
		{"legacy", `{"sessionId": "s-1", "status": 0, "value": {"browserName": "chrome"}}`},
		{"w3c", `{"value": {"sessionId": "s-1", "capabilities": {"browserName": "chrome"}}}`},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			var gotBody map[string]interface{}
			e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != "POST" || r.URL.Path != "/wd/hub/session" {
					t.Errorf("got request %s %s, want POST /wd/hub/session", r.Method, r.URL.Path)
				}
				if got, want := r.Header.Get("Content-Type"), "application/json; charset=utf-8"; got != want {
					t.Errorf("Content-Type = %q, want %q", got, want)
				}
				if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
					t.Errorf("decoding request body: %v", err)
				}
				writeJSON(w, http.StatusOK, tc.reply)
			}))

			caps := map[string]interface{}{"browserName": "chrome"}
			resp, err := e.Execute(context.Background(), &Command{
				Name:   CommandNewSession,
				Params: map[string]interface{}{"desiredCapabilities": caps},
			})
			if err != nil {
				t.Fatalf("Execute(newSession) returned error: %v", err)
			}
			if got, want := resp.SessionID, "s-1"; got != want {
				t.Errorf("SessionID = %q, want %q", got, want)
			}
			wantBody := map[string]interface{}{"desiredCapabilities": caps}
			if diff := cmp.Diff(wantBody, gotBody); diff != "" {
				t.Errorf("request body returned diff (-want/+got):\n%s", diff)
			}
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}), RequestTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getTitle"})
	elapsed := time.Since(start)

	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("Execute() returned error %v, want a timeout", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Execute() took %v, want about 100ms", elapsed)
	}
}

func TestRequestTimeoutStalledBody(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json;charset=UTF-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":0,`)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}), RequestTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getTitle"})
	elapsed := time.Since(start)

	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("Execute() returned error %v, want a timeout", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Execute() took %v, want about 100ms", elapsed)
	}
}

func TestKeepAliveAfterIdle(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"sessionId":"abc","status":0,"value":"title"}`)
	}), RequestTimeout(200*time.Millisecond))

	for i := 0; i < 3; i++ {
		if _, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getTitle"}); err != nil {
			t.Fatalf("Execute() #%d returned error: %v", i, err)
		}
		time.Sleep(150 * time.Millisecond)
	}
}

func TestRedirectFollowedAsGet(t *testing.T) {
	var hits []string
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/wd/hub/session":
			w.Header().Set("Location", "/session/redirected-id/new")
			writeJSON(w, http.StatusFound, `{"value": "moved"}`)
		case "/session/redirected-id/new":
			if got, want := r.Header.Get("Accept"), "application/json; charset=utf-8"; got != want {
				t.Errorf("redirect Accept = %q, want %q", got, want)
			}
			writeJSON(w, http.StatusOK, `{"status": 0, "value": {"browserName": "firefox"}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	resp, err := e.Execute(context.Background(), &Command{Name: CommandNewSession, Params: map[string]interface{}{}})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	if got, want := resp.SessionID, "redirected-id"; got != want {
		t.Errorf("SessionID = %q, want %q", got, want)
	}
	want := []string{"POST /wd/hub/session", "GET /session/redirected-id/new"}
	if diff := cmp.Diff(want, hits); diff != "" {
		t.Errorf("requests returned diff (-want/+got):\n%s", diff)
	}
	if got, want := e.LastResponse().URL, "/session/redirected-id/new"; !strings.HasSuffix(got, want) {
		t.Errorf("LastResponse().URL = %q, want suffix %q", got, want)
	}
}

func TestRelativeRedirect(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wd/hub/session/abc/url":
			w.Header().Set("Location", "/new")
			w.WriteHeader(http.StatusSeeOther)
		case "/new":
			writeJSON(w, http.StatusOK, `{"status": 0, "value": "http://example.com/"}`)
		default:
			http.NotFound(w, r)
		}
	}))

	resp, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getCurrentUrl"})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	if got, want := resp.Value, "http://example.com/"; got != want {
		t.Errorf("Value = %v, want %q", got, want)
	}
	// The final URL carries no session; the command's session is kept.
	if got, want := resp.SessionID, "abc"; got != want {
		t.Errorf("SessionID = %q, want %q", got, want)
	}
}

func TestTooManyRedirects(t *testing.T) {
	var hits int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		w.Header().Set("Location", fmt.Sprintf("/hop/%d", n))
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))

	_, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getTitle"})
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("Execute() returned error %v, want %v", err, ErrTooManyRedirects)
	}
	if got, want := atomic.LoadInt32(&hits), int32(MaxRedirects+1); got != want {
		t.Errorf("server saw %d requests, want %d", got, want)
	}
}

// dropConnection closes the client connection without sending a response.
func dropConnection(t *testing.T, w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
	hj, ok := w.(http.Hijacker)
	if !ok {
		t.Fatal("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		t.Fatalf("Hijack() returned error: %v", err)
	}
	conn.Close()
}

func TestRetryOnDroppedConnection(t *testing.T) {
	var hits int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			dropConnection(t, w, r)
			return
		}
		writeJSON(w, http.StatusOK, `{"sessionId": "abc", "status": 0, "value": "Example Domain"}`)
	}))

	resp, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getTitle"})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	if got, want := resp.Value, "Example Domain"; got != want {
		t.Errorf("Value = %v, want %q", got, want)
	}
	if got, want := atomic.LoadInt32(&hits), int32(2); got != want {
		t.Errorf("server saw %d requests, want %d", got, want)
	}
}

func TestSecondDropIsReturned(t *testing.T) {
	var hits int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		dropConnection(t, w, r)
	}))

	_, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "get", Params: map[string]interface{}{"url": "http://example.com"}})
	if err == nil {
		t.Fatal("Execute() succeeded, want error")
	}
	if !transient(err) {
		t.Errorf("Execute() returned error %v, want a dropped connection", err)
	}
	if got, want := atomic.LoadInt32(&hits), int32(2); got != want {
		t.Errorf("server saw %d requests, want %d", got, want)
	}
}

func TestRetryBackoffHonoursContext(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dropConnection(t, w, r)
	}), RetryBackoff(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, &Command{SessionID: "abc", Name: "refresh"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() returned error %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNoSession(t *testing.T) {
	var hits int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusOK, `{"status": 0, "value": null}`)
	}))

	resp, err := e.Execute(context.Background(), &Command{Name: CommandQuit})
	if err != nil {
		t.Errorf("Execute(quit) without session returned error: %v", err)
	}
	if resp == nil || resp.Value != nil {
		t.Errorf("Execute(quit) without session = %+v, want an empty response", resp)
	}

	if _, err := e.Execute(context.Background(), &Command{Name: "getTitle"}); !errors.Is(err, ErrNoSession) {
		t.Errorf("Execute(getTitle) without session returned error %v, want %v", err, ErrNoSession)
	}
	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Errorf("server saw %d requests, want none", got)
	}

	if _, err := e.Execute(context.Background(), &Command{Name: CommandGetAllSessions}); err != nil {
		t.Errorf("Execute(getAllSessions) without session returned error: %v", err)
	}
}

func TestUnsupportedCommand(t *testing.T) {
	for _, tc := range []struct {
		desc  string
		code  int
		reply string
	}{
		{"legacy", http.StatusNotFound, `{"status": 9, "value": {}}`},
		{"w3c", http.StatusNotFound, `{"value": {"error": "unknown command", "message": ""}}`},
		{"legacy status on success", http.StatusOK, `{"status": 9, "value": null}`},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.code, tc.reply)
			}))
			_, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getLog", Params: map[string]interface{}{"type": "browser"}})
			var uerr *UnsupportedCommandError
			if !errors.As(err, &uerr) {
				t.Fatalf("Execute() returned error %v (%T), want *UnsupportedCommandError", err, err)
			}
			if got, want := uerr.Error(), "unrecognized command: getLog"; got != want {
				t.Errorf("error = %q, want %q", got, want)
			}
		})
	}

	e, err := New("http://localhost:4444/wd/hub")
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Execute(context.Background(), &Command{SessionID: "abc", Name: "teleport"})
	var uerr *UnsupportedCommandError
	if !errors.As(err, &uerr) || uerr.Command != "teleport" {
		t.Errorf("Execute(teleport) returned error %v, want *UnsupportedCommandError", err)
	}
}

func TestErrorReplies(t *testing.T) {
	for _, tc := range []struct {
		desc  string
		code  int
		reply string
		want  *Error
	}{
		{
			desc:  "w3c",
			code:  http.StatusNotFound,
			reply: `{"value": {"error": "no such element", "message": "Unable to locate element", "stacktrace": "at foo"}}`,
			want:  &Error{Err: "no such element", Message: "Unable to locate element", Stacktrace: "at foo", HTTPCode: 404},
		},
		{
			desc:  "legacy with message",
			code:  http.StatusInternalServerError,
			reply: `{"status": 7, "value": {"message": "Unable to locate element"}}`,
			want:  &Error{Err: "no such element", Message: "Unable to locate element", HTTPCode: 500, LegacyCode: 7},
		},
		{
			desc:  "legacy status with HTTP 200",
			code:  http.StatusOK,
			reply: `{"status": 23, "value": {"message": "window closed"}}`,
			want:  &Error{Err: "no such window", Message: "window closed", HTTPCode: 200, LegacyCode: 23},
		},
		{
			desc:  "unknown legacy status",
			code:  http.StatusOK,
			reply: `{"status": 99, "value": null}`,
			want:  &Error{Err: "unknown error - 99", HTTPCode: 200, LegacyCode: 99},
		},
		{
			desc:  "not JSON",
			code:  http.StatusBadGateway,
			reply: `<html>bad gateway</html>`,
			want:  &Error{Err: "unknown error", Message: "bad server reply status: 502 Bad Gateway", HTTPCode: 502},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.code, tc.reply)
			}))
			_, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "findElement", Params: map[string]interface{}{"using": "id", "value": "missing"}})
			var got *Error
			if !errors.As(err, &got) {
				t.Fatalf("Execute() returned error %v (%T), want *Error", err, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Execute() error returned diff (-want/+got):\n%s", diff)
			}
			if last := e.LastResponse(); last == nil || last.StatusCode != tc.code {
				t.Errorf("LastResponse() = %v, want status %d", last, tc.code)
			}
		})
	}
}

func TestNilBytesInReply(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "{\"status\": 0,\x00\"value\": \"ok\"}")
	}))
	resp, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getTitle"})
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	if got, want := resp.Value, "ok"; got != want {
		t.Errorf("Value = %v, want %q", got, want)
	}
}

func TestCredentialsAndHeaders(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "grid" || pass != "s3cret" {
			t.Errorf("BasicAuth() = %q, %q, %t; want grid, s3cret, true", user, pass, ok)
		}
		if got, want := r.Header.Get("X-Test-Run"), "42"; got != want {
			t.Errorf("X-Test-Run = %q, want %q", got, want)
		}
		writeJSON(w, http.StatusOK, `{"status": 0, "value": "t"}`)
	}))
	defer s.Close()

	remote := strings.Replace(s.URL, "http://", "http://grid:s3cret@", 1) + "/wd/hub"
	e, err := New(remote, Headers(http.Header{"X-Test-Run": {"42"}}))
	if err != nil {
		t.Fatalf("New(%q) returned error: %v", remote, err)
	}
	if strings.Contains(e.Remote(), "s3cret") {
		t.Errorf("Remote() = %q, leaks credentials", e.Remote())
	}
	if _, err := e.Execute(context.Background(), &Command{SessionID: "abc", Name: "getTitle"}); err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
}

func TestNewRemote(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		remote string
		env    string
		want   string
	}{
		{desc: "default", want: DefaultExecutor},
		{desc: "environment", env: "http://grid:4444/wd/hub", want: "http://grid:4444/wd/hub"},
		{desc: "explicit wins", remote: "http://a:1/wd/hub", env: "http://grid:4444/wd/hub", want: "http://a:1/wd/hub"},
		{desc: "localdomain stripped", remote: "http://localhost.localdomain:4444/wd/hub", want: "http://localhost:4444/wd/hub"},
		{desc: "trailing slash", remote: "http://a:1/wd/hub/", want: "http://a:1/wd/hub"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Setenv(RemoteServerEnv, tc.env)
			e, err := New(tc.remote)
			if err != nil {
				t.Fatalf("New(%q) returned error: %v", tc.remote, err)
			}
			if got := e.Remote(); got != tc.want {
				t.Errorf("Remote() = %q, want %q", got, tc.want)
			}
		})
	}

	if _, err := New("/wd/hub"); err == nil {
		t.Error("New(\"/wd/hub\") succeeded, want error")
	}
	if _, err := New("http://a:1", RequestTimeout(-time.Second)); err == nil {
		t.Error("New() with negative timeout succeeded, want error")
	}
}

func TestStatus(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wd/hub/status" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, `{"status": 0, "value": {"ready": true, "build": {"version": "3.141.59"}, "os": {"name": "Linux"}}}`)
	}))

	s, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() returned error: %v", err)
	}
	if !s.Ready || s.OS.Name != "Linux" {
		t.Errorf("Status() = %+v", s)
	}
	v, err := s.Version()
	if err != nil {
		t.Fatalf("Version() returned error: %v", err)
	}
	if want := semver.MustParse("3.141.59"); !v.Equals(want) {
		t.Errorf("Version() = %s, want %s", v, want)
	}

	var empty Status
	if _, err := empty.Version(); err == nil {
		t.Error("Version() of empty status succeeded, want error")
	}
}
