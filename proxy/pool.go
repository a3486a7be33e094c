// Package proxy provides a pool of local forwarding proxies. Every proxy in a
// pool forwards to the same target server but listens on its own local port,
// so that each browser session can be given private per-session state such
// as extra request headers.
package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("proxy pool is closed")

// DefaultPort is used when the target port is not set.
const DefaultPort = 80

// maxPortAttempts bounds how many successive local ports Acquire tries when
// ports are already taken by other processes.
const maxPortAttempts = 10

// Target is the server every proxy in a pool forwards to.
type Target struct {
	Host string
	// Port is the target port. Negative values mean DefaultPort.
	Port int
}

// ParseTarget parses a URL such as "http://aut.example.com:8080".
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid proxy target %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("invalid proxy target %q: host is required", raw)
	}
	t := Target{Host: u.Hostname(), Port: -1}
	if p := u.Port(); p != "" {
		if t.Port, err = strconv.Atoi(p); err != nil {
			return Target{}, fmt.Errorf("invalid proxy target %q: %w", raw, err)
		}
	}
	return t.normalize(), nil
}

func (t Target) normalize() Target {
	if t.Port < 0 {
		t.Port = DefaultPort
	}
	return t
}

// Addr returns the target as host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.normalize().Port))
}

func (t Target) String() string {
	return t.Addr()
}

// Instance is a proxy listening on a local port.
type Instance interface {
	// Port returns the local port the proxy listens on.
	Port() int
	Target() Target
	Close() error
}

// Resetter is implemented by instances that keep per-session state. Reset is
// called when the instance is returned to its pool.
type Resetter interface {
	Reset()
}

// Factory starts a proxy listening on localPort that forwards to target.
type Factory func(localPort int, target Target) (Instance, error)

// Pool hands out proxies for exclusive use. It creates a new proxy on the
// next local port whenever none is idle, so it grows to the peak number of
// concurrent sessions and never shrinks.
type Pool struct {
	target  Target
	factory Factory
	next    atomic.Int64

	mu     sync.Mutex
	idle   []Instance
	all    []Instance
	closed bool
}

// NewPool returns an empty pool. Proxies will listen on firstPort,
// firstPort+1 and so on.
func NewPool(target Target, firstPort int, factory Factory) *Pool {
	p := &Pool{target: target.normalize(), factory: factory}
	p.next.Store(int64(firstPort))
	return p
}

// Target returns the server the pool's proxies forward to.
func (p *Pool) Target() Target {
	return p.target
}

// Acquire returns an idle proxy, or starts a new one. The caller has
// exclusive use of it until Release.
func (p *Pool) Acquire() (Instance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(p.idle) > 0 {
		inst := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()
		glog.V(1).Infof("proxy pool: reusing proxy on port %d", inst.Port())
		return inst, nil
	}
	p.mu.Unlock()

	var lastErr error
	for i := 0; i < maxPortAttempts; i++ {
		port := int(p.next.Add(1) - 1)
		inst, err := p.factory(port, p.target)
		if err == nil {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				inst.Close()
				return nil, ErrClosed
			}
			p.all = append(p.all, inst)
			p.mu.Unlock()
			glog.Infof("proxy pool: started proxy on port %d forwarding to %s", inst.Port(), p.target)
			return inst, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
		glog.Warningf("proxy pool: local port %d is in use, trying the next one", port)
	}
	return nil, fmt.Errorf("starting proxy to %s: %w", p.target, lastErr)
}

// Release returns inst to the pool. Its listener stays open for the next
// session.
func (p *Pool) Release(inst Instance) {
	if inst == nil {
		return
	}
	if r, ok := inst.(Resetter); ok {
		r.Reset()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if err := inst.Close(); err != nil {
			glog.Warningf("proxy pool: closing proxy on port %d released after shutdown: %v", inst.Port(), err)
		}
		return
	}
	p.idle = append(p.idle, inst)
	p.mu.Unlock()
	glog.V(1).Infof("proxy pool: released proxy on port %d", inst.Port())
}

// Size returns the number of proxies started so far.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Idle returns the number of proxies waiting in the pool.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close shuts down every proxy the pool has started, including those still
// in use.
func (p *Pool) Close() error {
	p.mu.Lock()
	all := p.all
	p.all, p.idle = nil, nil
	p.closed = true
	p.mu.Unlock()

	var g errgroup.Group
	for _, inst := range all {
		inst := inst
		g.Go(func() error {
			if err := inst.Close(); err != nil {
				return fmt.Errorf("closing proxy on port %d: %w", inst.Port(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
