package proxy

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/armon/go-socks5"
	"github.com/golang/glog"
)

// SOCKSProxy is a local SOCKS5 proxy that connects every client to its
// target, whatever address the client requested.
type SOCKSProxy struct {
	port   int
	target Target
	ln     net.Listener
	closed chan struct{}
	once   sync.Once
}

// pinnedRewriter sends every connection to the target.
type pinnedRewriter struct{ target Target }

func (r pinnedRewriter) Rewrite(ctx context.Context, req *socks5.Request) (context.Context, *socks5.AddrSpec) {
	glog.V(2).Infof("socks proxy: %s -> %s", req.DestAddr, r.target)
	return ctx, &socks5.AddrSpec{
		FQDN: r.target.Host,
		Port: r.target.Port,
	}
}

// Resolve skips name resolution; the destination is replaced anyway.
func (r pinnedRewriter) Resolve(ctx context.Context, name string) (context.Context, net.IP, error) {
	return ctx, nil, nil
}

// NewSOCKSProxy starts a SOCKS5 proxy on localPort. Port 0 picks a free port.
// If users is not empty, clients must authenticate with one of its
// user/password pairs.
func NewSOCKSProxy(localPort int, target Target, users map[string]string) (*SOCKSProxy, error) {
	target = target.normalize()
	conf := &socks5.Config{
		Rewriter: pinnedRewriter{target},
		Resolver: pinnedRewriter{target},
		Logger:   newLogger("socks proxy: "),
	}
	if len(users) > 0 {
		conf.AuthMethods = []socks5.Authenticator{
			socks5.UserPassAuthenticator{Credentials: socks5.StaticCredentials(users)},
		}
	}
	server, err := socks5.New(conf)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(localPort)))
	if err != nil {
		return nil, err
	}
	p := &SOCKSProxy{
		port:   ln.Addr().(*net.TCPAddr).Port,
		target: target,
		ln:     ln,
		closed: make(chan struct{}),
	}
	go func() {
		err := server.Serve(ln)
		select {
		case <-p.closed:
			return
		default:
		}
		if err != nil && !errors.Is(err, net.ErrClosed) {
			glog.Errorf("socks proxy on port %d stopped: %v", p.port, err)
		}
	}()
	return p, nil
}

// SOCKSFactory returns a Factory that starts SOCKSProxy instances.
func SOCKSFactory(users map[string]string) Factory {
	return func(localPort int, target Target) (Instance, error) {
		return NewSOCKSProxy(localPort, target, users)
	}
}

// Port implements Instance.
func (p *SOCKSProxy) Port() int { return p.port }

// Target implements Instance.
func (p *SOCKSProxy) Target() Target { return p.target }

// Close stops accepting connections. Established tunnels run until either
// side closes them.
func (p *SOCKSProxy) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		err = p.ln.Close()
	})
	return err
}
