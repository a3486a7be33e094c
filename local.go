package seleniumpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// Local driver kinds.
const (
	LocalChromeDriver = "chromedriver"
	LocalGeckoDriver  = "geckodriver"
	LocalSelenium     = "selenium"
)

// LocalDriverPool starts a driver service on this machine for every lease and
// stops it on release. Each session therefore gets a browser of its own.
type LocalDriverPool struct {
	start func(ctx context.Context, port int) (*Service, error)

	mu      sync.Mutex
	running map[string]*Service
}

// NewLocalDriverPool returns a pool that runs the driver of the given kind
// from path. For LocalSelenium, path is the server JAR.
func NewLocalDriverPool(kind, path string, opts ...ServiceOption) (*LocalDriverPool, error) {
	if path == "" {
		return nil, &ConfigError{Msg: "no local driver path configured"}
	}
	var start func(ctx context.Context, port int) (*Service, error)
	switch kind {
	case LocalChromeDriver:
		start = func(ctx context.Context, port int) (*Service, error) {
			return NewChromeDriverService(ctx, path, port, opts...)
		}
	case LocalGeckoDriver:
		start = func(ctx context.Context, port int) (*Service, error) {
			return NewGeckoDriverService(ctx, path, port, opts...)
		}
	case LocalSelenium:
		start = func(ctx context.Context, port int) (*Service, error) {
			return NewSeleniumService(ctx, path, port, opts...)
		}
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown local driver kind %q", kind)}
	}
	return &LocalDriverPool{start: start, running: make(map[string]*Service)}, nil
}

// Acquire starts a driver service on an unused port. Failing to start it is
// reported as an error since it points at a broken installation.
func (p *LocalDriverPool) Acquire(ctx context.Context) (*Endpoint, error) {
	if err := ctx.Err(); err != nil {
		glog.Warningf("local driver: start aborted: %v", err)
		return nil, nil
	}
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("finding a free port for the local driver: %w", err)
	}
	s, err := p.start(ctx, port)
	if err != nil {
		return nil, fmt.Errorf("starting local driver: %w", err)
	}
	e, err := ParseEndpoint(s.Addr())
	if err != nil {
		s.Stop()
		return nil, err
	}

	p.mu.Lock()
	p.running[e.String()] = s
	p.mu.Unlock()
	glog.Infof("local driver: serving %s", e)
	return e, nil
}

// Release stops the service behind e.
func (p *LocalDriverPool) Release(e *Endpoint) {
	if e == nil {
		return
	}
	p.mu.Lock()
	s, ok := p.running[e.String()]
	delete(p.running, e.String())
	p.mu.Unlock()
	if !ok {
		glog.Errorf("local driver: no service is running for %s", e)
		return
	}
	if err := s.Stop(); err != nil {
		glog.Errorf("local driver: stopping %s: %v", e, err)
	}
}

// Running returns the number of services currently started.
func (p *LocalDriverPool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// Close stops every running service.
func (p *LocalDriverPool) Close() {
	p.mu.Lock()
	running := p.running
	p.running = make(map[string]*Service)
	p.mu.Unlock()
	for addr, s := range running {
		if err := s.Stop(); err != nil {
			glog.Errorf("local driver: stopping %s: %v", addr, err)
		}
	}
}
