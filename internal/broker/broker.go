// Package broker implements the TCP listener and dataset registry that
// tie the rest of dataservd together: accept connections, hand each to
// the negotiation handler, and drive a clean shutdown that cancels every
// in-flight attachment.
package broker

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nspyre-project/dataservd/internal/negotiate"
	"github.com/nspyre-project/dataservd/internal/wire"
)

// Broker owns the dataset registry and the listening socket. It binds to
// the loopback interface, IPv4, by default; BindHost may be overridden
// by an operator who needs a different address.
type Broker struct {
	BindHost string
	Port     int
	Policy   wire.Policy
	Metrics  negotiate.Metrics
	Log      *logrus.Entry

	Registry *Registry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Broker ready to Serve. log must not be nil; metrics
// may be nil to disable metrics observation entirely.
func New(bindHost string, port int, policy wire.Policy, registry *Registry, metrics negotiate.Metrics, log *logrus.Entry) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		BindHost: bindHost,
		Port:     port,
		Policy:   policy,
		Metrics:  metrics,
		Log:      log,
		Registry: registry,
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Addr returns the listener's bound address. Valid only after Serve has
// started listening; chiefly useful in tests that bind to port 0.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Serve binds the listener and accepts connections, spawning a
// negotiation goroutine per connection, until Stop is called. It returns
// once the listener is closed and every spawned goroutine has finished.
// A bind failure is fatal to the caller, returned wrapped for the caller
// to log and exit on.
func (b *Broker) Serve() error {
	addr := fmt.Sprintf("%s:%d", b.BindHost, b.Port)
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("broker: bind %s: %w", addr, err)
	}

	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()

	b.Log.Infof("serving on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.ctx.Done():
				b.wg.Wait()
				return nil
			default:
				b.Log.WithError(err).Warn("accept failed")
				continue
			}
		}

		b.trackConn(conn)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer b.untrackConn(conn)
			negotiate.Handle(b.ctx, conn, b.Registry, b.Policy, b.Metrics, b.Log)
		}()
	}
}

func (b *Broker) trackConn(conn net.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn] = struct{}{}
}

func (b *Broker) untrackConn(conn net.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, conn)
}

// Stop cancels every in-flight attachment, closes every currently
// tracked connection, and closes the listener. A connection blocked in a
// deadline-bounded read or write does not observe ctx cancellation until
// that call returns, so closing the socket directly is what actually
// unblocks it promptly. Serve returns once all attachments have finished
// cleaning up. Idempotent.
func (b *Broker) Stop() {
	b.cancel()

	b.mu.Lock()
	ln := b.listener
	conns := make([]net.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	if ln != nil {
		ln.Close() //nolint:errcheck
	}
	for _, conn := range conns {
		conn.Close() //nolint:errcheck
	}
}
