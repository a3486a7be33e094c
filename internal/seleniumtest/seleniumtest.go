// Package seleniumtest provides a fake WebDriver remote end and tests that
// exercise a session manager. The tests are in a separate package so that
// they can run against the fake as well as against a real Selenium grid.
package seleniumtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Version is the build version the fake remote end reports.
const Version = "3.141.59"

type fakeSession struct {
	caps map[string]interface{}
	page string
	logs []map[string]interface{}
}

// Remote is a fake JSON wire protocol remote end. The "get" command fetches
// the page itself, through the proxy named in the session's capabilities if
// there is one.
type Remote struct {
	srv *httptest.Server

	mu       sync.Mutex
	next     int
	sessions map[string]*fakeSession
	requests []string
	failNew  string
}

// NewRemote starts a fake remote end. Call Close when done.
func NewRemote() *Remote {
	r := &Remote{sessions: make(map[string]*fakeSession)}
	r.srv = httptest.NewServer(http.StripPrefix("/wd/hub", http.HandlerFunc(r.serve)))
	return r
}

// URL returns the WebDriver URL of the remote end.
func (r *Remote) URL() string {
	return r.srv.URL + "/wd/hub"
}

// Close shuts the remote end down.
func (r *Remote) Close() {
	r.srv.Close()
}

// Sessions returns the number of open sessions.
func (r *Remote) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Capabilities returns the desired capabilities session id was created with.
func (r *Remote) Capabilities(id string) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s.caps
	}
	return nil
}

// Requests returns "METHOD path" for every request served so far.
func (r *Remote) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

// FailNewSession makes every following newSession command fail with msg.
// An empty msg restores normal operation.
func (r *Remote) FailNewSession(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNew = msg
}

// AddLog appends an entry to the browser log of session id.
func (r *Remote) AddLog(id, level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.logs = append(s.logs, map[string]interface{}{
			"timestamp": time.Now().UnixMilli(),
			"level":     level,
			"message":   msg,
		})
	}
}

func reply(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func success(w http.ResponseWriter, id string, value interface{}) {
	reply(w, http.StatusOK, map[string]interface{}{"sessionId": id, "status": 0, "value": value})
}

func failure(w http.ResponseWriter, code int, err, msg string) {
	reply(w, code, map[string]interface{}{"value": map[string]string{"error": err, "message": msg}})
}

func (r *Remote) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.requests = append(r.requests, req.Method+" "+req.URL.Path)
	r.mu.Unlock()

	var params map[string]interface{}
	if req.Body != nil {
		json.NewDecoder(req.Body).Decode(&params)
	}

	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	switch {
	case req.Method == http.MethodGet && req.URL.Path == "/status":
		success(w, "", map[string]interface{}{
			"build": map[string]string{"version": Version},
			"os":    map[string]string{"name": "linux", "arch": "amd64"},
			"ready": true,
		})
	case req.Method == http.MethodPost && req.URL.Path == "/session":
		r.newSession(w, params)
	case len(parts) >= 2 && parts[0] == "session":
		r.sessionCommand(w, req, parts[1], strings.Join(parts[2:], "/"), params)
	default:
		failure(w, http.StatusNotFound, "unknown command", "")
	}
}

func (r *Remote) newSession(w http.ResponseWriter, params map[string]interface{}) {
	caps, _ := params["desiredCapabilities"].(map[string]interface{})
	r.mu.Lock()
	if r.failNew != "" {
		msg := r.failNew
		r.mu.Unlock()
		reply(w, http.StatusInternalServerError, map[string]interface{}{
			"status": 33,
			"value":  map[string]string{"message": msg},
		})
		return
	}
	r.next++
	id := fmt.Sprintf("fake-%d", r.next)
	r.sessions[id] = &fakeSession{caps: caps}
	r.mu.Unlock()
	success(w, id, caps)
}

func (r *Remote) sessionCommand(w http.ResponseWriter, req *http.Request, id, cmd string, params map[string]interface{}) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		failure(w, http.StatusNotFound, "invalid session id", "no such session: "+id)
		return
	}

	switch {
	case req.Method == http.MethodDelete && cmd == "":
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		success(w, id, nil)
	case req.Method == http.MethodPost && cmd == "url":
		u, _ := params["url"].(string)
		page, err := fetch(req.Context(), s.caps, u)
		if err != nil {
			failure(w, http.StatusInternalServerError, "unknown error", err.Error())
			return
		}
		r.mu.Lock()
		s.page = page
		r.mu.Unlock()
		success(w, id, nil)
	case req.Method == http.MethodGet && cmd == "source":
		r.mu.Lock()
		page := s.page
		r.mu.Unlock()
		success(w, id, page)
	case req.Method == http.MethodPost && cmd == "log":
		r.mu.Lock()
		logs := s.logs
		s.logs = nil
		r.mu.Unlock()
		if logs == nil {
			logs = []map[string]interface{}{}
		}
		success(w, id, logs)
	default:
		failure(w, http.StatusNotFound, "unknown command", "")
	}
}

// fetch loads u the way a browser with caps would.
func fetch(ctx context.Context, caps map[string]interface{}, u string) (string, error) {
	tr := &http.Transport{DisableKeepAlives: true}
	if p, ok := caps["proxy"].(map[string]interface{}); ok && p["proxyType"] == "manual" {
		if addr, _ := p["httpProxy"].(string); addr != "" {
			tr.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: addr})
		} else if addr, _ := p["socksProxy"].(string); addr != "" {
			var auth *xproxy.Auth
			if user, _ := p["socksUsername"].(string); user != "" {
				pass, _ := p["socksPassword"].(string)
				auth = &xproxy.Auth{User: user, Password: pass}
			}
			d, err := xproxy.SOCKS5("tcp", addr, auth, xproxy.Direct)
			if err != nil {
				return "", err
			}
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return d.(xproxy.ContextDialer).DialContext(ctx, network, addr)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := (&http.Client{Transport: tr}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}
