// Package executor sends WebDriver wire protocol commands to a remote end.
// See https://www.w3.org/TR/webdriver for the protocol.
//
// The executor knows nothing about elements, windows or scripts: every
// command is a name plus parameters, encoded through a fixed command table.
// What it adds over a plain HTTP client is fault tolerance. A connection
// that drops before a response arrives is retried once, redirects are
// followed with a bound, and session IDs are recovered from the request URL
// when the remote end does not report them.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
)

const (
	// DefaultExecutor is the remote end used when none is given.
	DefaultExecutor = "http://localhost:4444/wd/hub"
	// RemoteServerEnv names the environment variable that overrides
	// DefaultExecutor.
	RemoteServerEnv = "WEBDRIVER_REMOTE_SERVER"
	// JSONType is JSON content type.
	JSONType = "application/json"
	// MaxRedirects is the maximum number of redirects to follow.
	MaxRedirects = 10

	// DefaultRetryBackoff is the pause before retrying a dropped request.
	DefaultRetryBackoff = 2 * time.Second

	// Timeouts applied when no request timeout is configured. Browser
	// commands such as page loads may legitimately take very long.
	defaultResponseTimeout = 3 * time.Hour
	defaultConnectTimeout  = 60 * time.Second
	// Connect timeout used together with a custom request timeout.
	customConnectTimeout = 15 * time.Second

	maxRetries = 1
)

const jsonUTF8 = JSONType + "; charset=utf-8"

// Command is a single named WebDriver command.
type Command struct {
	// SessionID is empty for commands that create or query sessions.
	SessionID string
	Name      string
	Params    map[string]interface{}
}

// Response is the decoded reply of the remote end.
type Response struct {
	SessionID string
	// Status is the legacy JSON wire protocol status; zero on success.
	Status int
	State  string
	Value  interface{}
	// Raw holds the undecoded "value" member.
	Raw json.RawMessage
}

// Exchange describes the last HTTP exchange of an Executor.
type Exchange struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (x *Exchange) String() string {
	if x == nil {
		return "<no response>"
	}
	return fmt.Sprintf("%s %s -> %d %s", x.Method, x.URL, x.StatusCode, x.Body)
}

// Option configures an Executor.
type Option func(*Executor) error

// RequestTimeout bounds the time to wait for a response. Zero keeps the
// protocol defaults of three hours, with a one minute connect timeout.
func RequestTimeout(d time.Duration) Option {
	return func(e *Executor) error {
		if d < 0 {
			return fmt.Errorf("negative request timeout %v", d)
		}
		e.timeout = d
		return nil
	}
}

// Headers are added to every request.
func Headers(h http.Header) Option {
	return func(e *Executor) error {
		for k, vs := range h {
			for _, v := range vs {
				e.headers.Add(k, v)
			}
		}
		return nil
	}
}

// RetryBackoff sets the pause before a dropped request is retried.
func RetryBackoff(d time.Duration) Option {
	return func(e *Executor) error {
		e.backoff = d
		return nil
	}
}

// Transport replaces the HTTP transport. Timeouts configured with
// RequestTimeout are then the transport's responsibility.
func Transport(rt http.RoundTripper) Option {
	return func(e *Executor) error {
		e.transport = rt
		return nil
	}
}

// Executor sends commands to one remote end. It is safe for concurrent use.
type Executor struct {
	remote    *url.URL
	user      *url.Userinfo
	headers   http.Header
	timeout   time.Duration
	backoff   time.Duration
	transport http.RoundTripper
	client    *http.Client

	mu   sync.Mutex
	last *Exchange
}

// New returns an executor for the remote end at remote, which must be
// prefixed with the protocol (http, https). An empty remote means the value
// of WEBDRIVER_REMOTE_SERVER, or DefaultExecutor if that is unset.
func New(remote string, opts ...Option) (*Executor, error) {
	if remote == "" {
		remote = os.Getenv(RemoteServerEnv)
	}
	if remote == "" {
		remote = DefaultExecutor
	}
	u, err := url.Parse(remote)
	if err != nil {
		return nil, fmt.Errorf("invalid remote end %q: %w", remote, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote end %q: scheme and host are required", remote)
	}

	// "localhost.localdomain" does not resolve on every machine.
	if h := u.Hostname(); strings.HasSuffix(h, ".localdomain") {
		h = strings.TrimSuffix(h, ".localdomain")
		if p := u.Port(); p != "" {
			h = net.JoinHostPort(h, p)
		}
		u.Host = h
	}

	e := &Executor{
		user:    u.User,
		headers: make(http.Header),
		backoff: DefaultRetryBackoff,
	}
	u.User = nil
	u.Path = strings.TrimSuffix(u.Path, "/")
	e.remote = u

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.transport == nil {
		e.transport = newTransport(e.timeout)
	}
	e.client = &http.Client{
		Transport: e.transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return e, nil
}

func newTransport(timeout time.Duration) *http.Transport {
	response, connect := defaultResponseTimeout, defaultConnectTimeout
	if timeout > 0 {
		response, connect = timeout, customConnectTimeout
	}
	dialer := &net.Dialer{
		Timeout:   connect,
		KeepAlive: 30 * time.Second,
	}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: c, timeout: response}, nil
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dial,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: response,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
}

// deadlineConn bounds every read by timeout, so a remote end that stalls
// while sending a reply body is cut off like one that never answers.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// Write also re-arms the read deadline: an idle connection's pending read
// must not expire in the middle of the next exchange.
func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// Remote returns the address of the remote end, without credentials.
func (e *Executor) Remote() string {
	return e.remote.String()
}

// LastResponse returns the last HTTP exchange, or nil if there was none.
func (e *Executor) LastResponse() *Exchange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Execute sends cmd and decodes the reply.
func (e *Executor) Execute(ctx context.Context, cmd *Command) (*Response, error) {
	if cmd.SessionID == "" {
		if cmd.Name == CommandQuit {
			// Quitting without a session is a no-op.
			return &Response{}, nil
		}
		if needsSession(cmd.Name) {
			return nil, ErrNoSession
		}
	}

	method, path, params, err := encode(cmd)
	if err != nil {
		return nil, err
	}
	var data []byte
	if method == http.MethodPost {
		if data, err = json.Marshal(params); err != nil {
			return nil, err
		}
	}

	target := *e.remote
	target.Path += path

	resp, err := e.send(ctx, method, &target, data, false)
	if err != nil {
		return nil, e.annotate(cmd, err)
	}

	for hops := 0; isRedirect(resp); hops++ {
		loc := resp.Header.Get("Location")
		if loc == "" {
			break
		}
		next, err := resp.Request.URL.Parse(loc)
		drain(resp)
		if err != nil {
			return nil, fmt.Errorf("bad redirect location %q: %w", loc, err)
		}
		if hops >= MaxRedirects {
			return nil, ErrTooManyRedirects
		}
		glog.V(1).Infof("%s: following redirect to %s", cmd.Name, next)
		if resp, err = e.send(ctx, http.MethodGet, next, nil, true); err != nil {
			return nil, e.annotate(cmd, err)
		}
	}

	return e.decode(cmd, resp)
}

// send issues one request, retrying once if the connection was dropped
// before a response arrived.
func (e *Executor) send(ctx context.Context, method string, u *url.URL, data []byte, redirect bool) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := e.newRequest(ctx, method, u.String(), data, redirect)
		if err != nil {
			return nil, err
		}
		glog.V(1).Infof("-> %s %s\n%s", method, u, data)
		resp, err := e.client.Do(req)
		if err == nil {
			return resp, nil
		}
		if attempt >= maxRetries || !transient(err) {
			return nil, err
		}
		glog.Warningf("%s %s failed (%v), retrying in %v", method, u, err, e.backoff)
		t := time.NewTimer(e.backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

func (e *Executor) newRequest(ctx context.Context, method, u string, data []byte, redirect bool) (*http.Request, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range e.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	if redirect {
		req.Header.Set("Accept", jsonUTF8)
	} else {
		req.Header.Set("Accept", JSONType)
	}
	if data != nil {
		req.Header.Set("Content-Type", jsonUTF8)
	}
	req.Header.Set("Cache-Control", "no-cache")
	if e.user != nil {
		pass, _ := e.user.Password()
		req.SetBasicAuth(e.user.Username(), pass)
	}
	return req, nil
}

// transient reports whether err means the connection went away before a
// response was received, or no local address could be bound.
func transient(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EADDRINUSE) ||
		errors.Is(err, syscall.EADDRNOTAVAIL)
}

func (e *Executor) annotate(cmd *Command, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout := e.timeout
		if timeout == 0 {
			timeout = defaultResponseTimeout
		}
		glog.Warningf("timeout waiting for %s after %v", cmd.Name, timeout)
	}
	return err
}

func isRedirect(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func isMimeType(resp *http.Response, mtype string) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), mtype)
}

// Some versions of Selenium return NUL bytes, which json.Unmarshal rejects.
func cleanNils(buf []byte) {
	for i, b := range buf {
		if b == 0 {
			buf[i] = ' '
		}
	}
}

var sessionPath = regexp.MustCompile(`/session/([^/]+)`)

// sessionFromPath extracts the session ID from a URL path such as
// "/wd/hub/session/1234/url".
func sessionFromPath(path string) string {
	m := sessionPath.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

type serverReply struct {
	SessionID *string         `json:"sessionId"`
	Status    int             `json:"status"`
	State     string          `json:"state"`
	Value     json.RawMessage `json:"value"`
}

// w3cValue holds the members of "value" that carry protocol information in
// W3C replies.
type w3cValue struct {
	SessionID  string `json:"sessionId"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace"`
}

func (e *Executor) decode(cmd *Command, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)

	x := &Exchange{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       buf,
	}
	e.mu.Lock()
	e.last = x
	e.mu.Unlock()

	if err != nil {
		return nil, e.annotate(cmd, fmt.Errorf("reading reply to %s: %w", cmd.Name, err))
	}

	if glog.V(2) {
		var pretty bytes.Buffer
		if json.Indent(&pretty, buf, "", "    ") == nil && pretty.Len() > 0 {
			glog.Infof("<- %s [%s]\n%s", resp.Status, resp.Header.Get("Content-Type"), pretty.Bytes())
		} else {
			glog.Infof("<- %s [%s]\n%s", resp.Status, resp.Header.Get("Content-Type"), buf)
		}
	}

	cleanNils(buf)
	fallbackID := sessionFromPath(resp.Request.URL.Path)

	if resp.StatusCode >= 400 {
		reply := new(serverReply)
		if err := json.Unmarshal(buf, reply); err != nil {
			return nil, e.unsupported(cmd, &Error{
				Err:      "unknown error",
				Message:  fmt.Sprintf("bad server reply status: %s", resp.Status),
				HTTPCode: resp.StatusCode,
			})
		}
		return nil, e.unsupported(cmd, replyError(reply, resp.StatusCode))
	}

	if len(bytes.TrimSpace(buf)) == 0 || !isMimeType(resp, JSONType) {
		// Nothing was returned, this is OK for some commands.
		return &Response{SessionID: sessionOr(cmd.SessionID, fallbackID)}, nil
	}

	reply := new(serverReply)
	if err := json.Unmarshal(buf, reply); err != nil {
		return nil, fmt.Errorf("decoding reply to %s: %w", cmd.Name, err)
	}
	if err := replyError(reply, resp.StatusCode); err != nil {
		return nil, e.unsupported(cmd, err)
	}

	r := &Response{
		Status: reply.Status,
		State:  reply.State,
		Raw:    reply.Value,
	}
	if len(reply.Value) > 0 {
		if err := json.Unmarshal(reply.Value, &r.Value); err != nil {
			return nil, fmt.Errorf("decoding value of %s: %w", cmd.Name, err)
		}
	}

	switch {
	case reply.SessionID != nil && *reply.SessionID != "":
		r.SessionID = *reply.SessionID
	case w3c(reply.Value).SessionID != "":
		r.SessionID = w3c(reply.Value).SessionID
	default:
		r.SessionID = sessionOr(fallbackID, cmd.SessionID)
	}
	return r, nil
}

func sessionOr(ids ...string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}

func w3c(raw json.RawMessage) w3cValue {
	var v w3cValue
	if len(raw) > 0 && raw[0] == '{' {
		json.Unmarshal(raw, &v)
	}
	return v
}

// replyError returns the error carried by reply, or nil on success.
func replyError(reply *serverReply, httpCode int) *Error {
	v := w3c(reply.Value)
	if v.Error != "" {
		return &Error{
			Err:        v.Error,
			Message:    v.Message,
			Stacktrace: v.Stacktrace,
			HTTPCode:   httpCode,
			LegacyCode: reply.Status,
		}
	}
	if reply.Status == Success && httpCode < 400 {
		return nil
	}
	msg := "unknown error"
	if reply.Status != Success {
		var ok bool
		if msg, ok = remoteErrors[reply.Status]; !ok {
			msg = fmt.Sprintf("unknown error - %d", reply.Status)
		}
	}
	return &Error{
		Err:        msg,
		Message:    v.Message,
		HTTPCode:   httpCode,
		LegacyCode: reply.Status,
	}
}

// unsupported turns an unexplained "unknown command" into an
// UnsupportedCommandError naming the command.
func (e *Executor) unsupported(cmd *Command, err *Error) error {
	if err.unsupported() && err.Message == "" {
		return &UnsupportedCommandError{Command: cmd.Name}
	}
	return err
}
