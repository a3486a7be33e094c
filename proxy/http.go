package proxy

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
)

// HTTPProxy is a local HTTP proxy that sends every request to its target,
// whatever host the client asked for. It can add credentials and custom
// headers to the forwarded requests.
type HTTPProxy struct {
	port           int
	target         Target
	user, password string

	ln  net.Listener
	srv *http.Server
	rp  *httputil.ReverseProxy

	mu      sync.RWMutex
	headers http.Header
}

// HTTPOption configures an HTTPProxy.
type HTTPOption func(*HTTPProxy)

// Credentials makes the proxy authenticate to the target with HTTP Basic
// authentication.
func Credentials(user, password string) HTTPOption {
	return func(p *HTTPProxy) {
		p.user, p.password = user, password
	}
}

// NewHTTPProxy starts a proxy on localPort. Port 0 picks a free port.
func NewHTTPProxy(localPort int, target Target, opts ...HTTPOption) (*HTTPProxy, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(localPort)))
	if err != nil {
		return nil, err
	}
	p := &HTTPProxy{
		port:    ln.Addr().(*net.TCPAddr).Port,
		target:  target.normalize(),
		ln:      ln,
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.rp = &httputil.ReverseProxy{
		Director: p.direct,
		ErrorLog: newLogger("http proxy: "),
	}
	p.srv = &http.Server{
		Handler:           p,
		ReadHeaderTimeout: time.Minute,
		ErrorLog:          newLogger("http proxy: "),
	}
	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("http proxy on port %d stopped: %v", p.port, err)
		}
	}()
	return p, nil
}

// HTTPFactory returns a Factory that starts HTTPProxy instances.
func HTTPFactory(opts ...HTTPOption) Factory {
	return func(localPort int, target Target) (Instance, error) {
		return NewHTTPProxy(localPort, target, opts...)
	}
}

// Port implements Instance.
func (p *HTTPProxy) Port() int { return p.port }

// Target implements Instance.
func (p *HTTPProxy) Target() Target { return p.target }

// SetHeader sets a header on all subsequently forwarded requests. An empty
// value removes the header.
func (p *HTTPProxy) SetHeader(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if value == "" {
		p.headers.Del(name)
		return
	}
	p.headers.Set(name, value)
}

// Header returns a copy of the custom headers.
func (p *HTTPProxy) Header() http.Header {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.headers.Clone()
}

// Reset removes all custom headers.
func (p *HTTPProxy) Reset() {
	p.mu.Lock()
	p.headers = make(http.Header)
	p.mu.Unlock()
}

// Close stops the proxy and closes open connections.
func (p *HTTPProxy) Close() error {
	return p.srv.Close()
}

func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.tunnel(w, r)
		return
	}
	glog.V(2).Infof("http proxy %d: %s %s -> %s", p.port, r.Method, r.URL, p.target)
	p.rp.ServeHTTP(w, r)
}

func (p *HTTPProxy) direct(req *http.Request) {
	addr := p.target.Addr()
	req.URL.Scheme = "http"
	req.URL.Host = addr
	req.Host = addr
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}

	p.mu.RLock()
	for k, vs := range p.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	p.mu.RUnlock()

	if p.user != "" {
		req.SetBasicAuth(p.user, p.password)
	}
}

// tunnel connects a CONNECT request to the target. The stream is opaque, so
// custom headers do not apply.
func (p *HTTPProxy) tunnel(w http.ResponseWriter, r *http.Request) {
	upstream, err := net.DialTimeout("tcp", p.target.Addr(), 30*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, buf, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		glog.Errorf("http proxy %d: hijack failed: %v", p.port, err)
		return
	}
	if _, err := io.WriteString(client, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		client.Close()
		upstream.Close()
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, buf)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
	client.Close()
	upstream.Close()
	<-done
}
