package goindi

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rickbassham/logging"
)

type netDialer struct {
	network string
	address string
}

func (d netDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, d.network, d.address)
}

// TCPClientConnection is the transport a Client uses to reach an
// indiserver: it wraps a streamConnection and, on any read/write failure,
// redials after a fixed delay (spec section 6.4's RECONNECTION_DELAY_SEC),
// replacing the source runtime's asyncio reconnection-monitor task with a
// cenkalti/backoff constant-interval retry loop.
type TCPClientConnection struct {
	log     logging.Logger
	network string
	address string

	mu     sync.RWMutex
	inner  *streamConnection
	status ConnectionStatus
	cbs    []Callback

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTCPClientConnection builds a reconnecting TCP client transport.
func NewTCPClientConnection(log logging.Logger, network, address string) *TCPClientConnection {
	return &TCPClientConnection{
		log:     log,
		network: network,
		address: address,
		status:  ConnectionStatusNotConfigured,
	}
}

func (c *TCPClientConnection) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.inner == nil {
		return ""
	}
	return c.inner.ID()
}

func (c *TCPClientConnection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *TCPClientConnection) AddCallback(cb Callback) {
	c.mu.Lock()
	c.cbs = append(c.cbs, cb)
	c.mu.Unlock()
}

func (c *TCPClientConnection) Send(msg Message) error {
	c.mu.RLock()
	inner := c.inner
	c.mu.RUnlock()
	if inner == nil {
		return ErrNotConnected
	}
	return inner.Send(msg)
}

// Start launches the reconnection supervisor loop in the background and
// returns the outcome of the first connection attempt, or ctx's error if ctx
// is done first. A failed first attempt is returned as an error while the
// supervisor keeps retrying in the background until Stop is called. Calling
// Start while a supervisor is still running returns ErrAlreadyStarted.
func (c *TCPClientConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			c.mu.Unlock()
			cancel()
			return ErrAlreadyStarted
		}
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status = ConnectionStatusConnecting
	c.mu.Unlock()

	connected := make(chan error, 1)
	go c.supervise(ctx, connected)

	select {
	case err := <-connected:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *TCPClientConnection) supervise(ctx context.Context, firstAttempt chan<- error) {
	defer close(c.done)
	first := true
	for {
		select {
		case <-ctx.Done():
			if first {
				firstAttempt <- ctx.Err()
			}
			return
		default:
		}

		inner := newStreamConnection(c.log, netDialer{network: c.network, address: c.address})
		c.mu.Lock()
		for _, cb := range c.cbs {
			inner.AddCallback(cb)
		}
		c.inner = inner
		c.mu.Unlock()

		err := inner.Start(ctx)
		if first {
			firstAttempt <- err
			first = false
		}
		if err != nil {
			if c.log != nil {
				c.log.WithError(err).WithField("address", c.address).Warn("could not connect to indiserver")
			}
			c.setStatus(ConnectionStatusReconnecting)
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}

		c.setStatus(ConnectionStatusConnected)
		waitErr := inner.Wait()
		if ctx.Err() != nil {
			return
		}
		if c.log != nil {
			c.log.WithError(waitErr).Warn("lost connection to indiserver, reconnecting")
		}
		c.setStatus(ConnectionStatusReconnecting)
		if !c.sleepBackoff(ctx) {
			return
		}
	}
}

func (c *TCPClientConnection) sleepBackoff(ctx context.Context) bool {
	b := backoff.WithContext(backoff.NewConstantBackOff(ReconnectionDelay), ctx)
	timer := b.NextBackOff()
	if timer == backoff.Stop {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(timer):
		return true
	}
}

func (c *TCPClientConnection) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Stop cancels the supervisor loop and waits for it to exit.
func (c *TCPClientConnection) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	inner := c.inner
	done := c.done
	c.status = ConnectionStatusStopped
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if inner != nil {
		err = inner.Stop()
	}
	if done != nil {
		<-done
	}
	return err
}

// TCPServerConnection wraps one accepted downstream peer socket as a plain,
// non-reconnecting Connection for use by Proxy.
type TCPServerConnection struct {
	*streamConnection
}

func newTCPServerConnection(log logging.Logger, conn io.ReadWriteCloser) *TCPServerConnection {
	sc := newStreamConnection(log, DialerFunc(func(context.Context) (io.ReadWriteCloser, error) {
		return conn, nil
	}))
	return &TCPServerConnection{streamConnection: sc}
}

// TCPServerListener accepts inbound TCP connections, handing each to a
// callback as a fresh TCPServerConnection. Used by Proxy to serve
// downstream clients.
type TCPServerListener struct {
	log      logging.Logger
	listener net.Listener
}

// ListenTCP opens a listening socket at address.
func ListenTCP(log logging.Logger, network, address string) (*TCPServerListener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return &TCPServerListener{log: log, listener: ln}, nil
}

// Addr reports the listener's bound address.
func (l *TCPServerListener) Addr() net.Addr { return l.listener.Addr() }

// Accept accepts inbound connections in a loop, starting each one and
// invoking onConnect with it once its workers are running. It returns only
// when the listener's Accept fails (for example after Close), returning
// ctx's error if ctx is done by then; canceling ctx alone does not unblock it.
func (l *TCPServerListener) Accept(ctx context.Context, onConnect func(*TCPServerConnection)) error {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		sc := newTCPServerConnection(l.log, conn)
		if err := sc.Start(ctx); err != nil {
			if l.log != nil {
				l.log.WithError(err).Warn("could not start accepted connection")
			}
			continue
		}
		onConnect(sc)
	}
}

// Close stops accepting new connections.
func (l *TCPServerListener) Close() error {
	return l.listener.Close()
}
