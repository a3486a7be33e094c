package seleniumpool

import (
	"context"
	"sync/atomic"

	"github.com/golang/glog"
)

// ResourceService hands out Selenium endpoints to test sessions.
//
// Acquire returns (nil, nil) when no endpoint is available right now, e.g.
// because ctx was cancelled while waiting or a remote service declined the
// request. Callers must check for a nil endpoint and abort. A non-nil error
// is only returned for configuration problems.
//
// Release never fails; problems are logged.
type ResourceService interface {
	Acquire(ctx context.Context) (*Endpoint, error)
	Release(e *Endpoint)
}

// RoundRobinPool cycles through a fixed list of endpoints. An endpoint may be
// handed to more than one session at a time: with two URLs and two workers, a
// worker finishing early receives the URL still in use by the other. Use an
// ExclusivePool when that is not acceptable.
type RoundRobinPool struct {
	endpoints []*Endpoint
	next      atomic.Uint64
}

// NewRoundRobinPool returns a pool over endpoints, in the given order.
func NewRoundRobinPool(endpoints []*Endpoint) *RoundRobinPool {
	return &RoundRobinPool{endpoints: append([]*Endpoint(nil), endpoints...)}
}

// Acquire returns the next endpoint in configuration order. It never blocks.
func (p *RoundRobinPool) Acquire(context.Context) (*Endpoint, error) {
	if len(p.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	n := p.next.Add(1) - 1
	e := p.endpoints[n%uint64(len(p.endpoints))]
	glog.V(1).Infof("round robin: issuing %s", e)
	return e, nil
}

// Release is a no-op; round robin endpoints carry no lease state.
func (p *RoundRobinPool) Release(*Endpoint) {}

// ExclusivePool hands out each endpoint to at most one session at a time.
// Callers that find every endpoint in use wait until one is released; waiters
// are served in the order they started waiting.
type ExclusivePool struct {
	free chan *Endpoint
}

// NewExclusivePool returns a pool seeded with all endpoints.
func NewExclusivePool(endpoints []*Endpoint) *ExclusivePool {
	p := &ExclusivePool{}
	if len(endpoints) == 0 {
		return p
	}
	p.free = make(chan *Endpoint, len(endpoints))
	for _, e := range endpoints {
		p.free <- e
	}
	return p
}

// Acquire blocks until an endpoint is free. If ctx is done first it returns
// (nil, nil) so the caller aborts instead of retrying.
func (p *ExclusivePool) Acquire(ctx context.Context) (*Endpoint, error) {
	if p.free == nil {
		return nil, ErrNoEndpoints
	}
	// A send on a channel with blocked receivers hands the value straight to
	// the longest waiting one, which gives the FIFO order.
	select {
	case e := <-p.free:
		glog.V(1).Infof("exclusive: leased %s", e)
		return e, nil
	case <-ctx.Done():
		glog.Warningf("exclusive: wait for a Selenium URL aborted: %v", ctx.Err())
		return nil, nil
	}
}

// Release returns e to the pool, waking the longest waiting caller.
func (p *ExclusivePool) Release(e *Endpoint) {
	if e == nil || p.free == nil {
		return
	}
	select {
	case p.free <- e:
		glog.V(1).Infof("exclusive: released %s", e)
	default:
		glog.Errorf("exclusive: pool is full, dropping release of %s which was not leased from it", e)
	}
}

// Available reports the number of endpoints not currently leased.
func (p *ExclusivePool) Available() int {
	return len(p.free)
}
