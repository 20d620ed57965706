package goindi

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rickbassham/logging"
	"golang.org/x/sync/errgroup"
)

// Dialer abstracts how a Connection opens its underlying byte stream,
// generalizing the source runtime's TCP-only Dialer interface to any
// io.ReadWriteCloser transport (spec section 4.4: TCP, FIFO triple, or pipe
// all share one lifecycle).
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) { return f(ctx) }

// Callback is invoked on transport lifecycle and message events.
type Callback func(event TransportEvent, msg Message)

// Connection is the transport abstraction every higher-level component
// (Client, Device, Proxy) is built on.
type Connection interface {
	ID() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg Message) error
	AddCallback(cb Callback)
	Status() ConnectionStatus
}

// streamConnection drives one io.ReadWriteCloser with a reader goroutine
// feeding a Parser, a writer goroutine draining an outbound queue, and a
// callback table, mirroring the teacher's startRead/startWrite goroutine
// pair but generalized to any byte stream and coordinated with
// golang.org/x/sync/errgroup instead of bare unsynchronized goroutines.
type streamConnection struct {
	id     string
	log    logging.Logger
	dialer Dialer

	mu        sync.RWMutex
	status    ConnectionStatus
	conn      io.ReadWriteCloser
	parser    *Parser
	outbound  *unboundedQueue[Message]
	callbacks []Callback

	cancel    context.CancelFunc
	eg        *errgroup.Group
	writeDone chan struct{}
}

func newStreamConnection(log logging.Logger, dialer Dialer) *streamConnection {
	return &streamConnection{
		id:       uuid.NewString(),
		log:      log,
		dialer:   dialer,
		status:   ConnectionStatusNotConfigured,
		outbound: newUnboundedQueue[Message](),
	}
}

func (c *streamConnection) ID() string { return c.id }

func (c *streamConnection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *streamConnection) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *streamConnection) AddCallback(cb Callback) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, cb)
	c.mu.Unlock()
}

func (c *streamConnection) fire(event TransportEvent, msg Message) {
	c.mu.RLock()
	cbs := append([]Callback(nil), c.callbacks...)
	c.mu.RUnlock()
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil && c.log != nil {
					c.log.WithField("panic", fmt.Sprint(r)).Warn("recovered panic in connection callback")
				}
			}()
			cb(event, msg)
		}()
	}
}

// Start dials the connection once and runs its reader/writer pair until ctx
// is canceled or Stop is called. It does not reconnect; TCPClientConnection
// layers reconnection supervision on top of this.
func (c *streamConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status == ConnectionStatusConnected || c.status == ConnectionStatusConnecting {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.status = ConnectionStatusConnecting
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.setStatus(ConnectionStatusError)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.parser = NewParser(c.log)
	c.writeDone = make(chan struct{})
	eg, egCtx := errgroup.WithContext(ctx)
	c.eg = eg
	c.status = ConnectionStatusConnected
	c.mu.Unlock()

	eg.Go(func() error { return c.readLoop(egCtx) })
	eg.Go(func() error { return c.dispatchLoop(egCtx) })
	eg.Go(func() error { return c.writeLoop(egCtx) })

	c.fire(TransportEventConnection, nil)
	return nil
}

// Wait blocks until the connection's worker goroutines exit, returning
// their aggregated error.
func (c *streamConnection) Wait() error {
	c.mu.RLock()
	eg := c.eg
	c.mu.RUnlock()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}

func (c *streamConnection) readLoop(ctx context.Context) error {
	buf := make([]byte, ChunkMaxReadSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			if ferr := c.parser.Feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (c *streamConnection) dispatchLoop(ctx context.Context) error {
	for {
		msg, ok := c.parser.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return io.EOF
		}
		c.fire(TransportEventInbound, msg)
	}
}

func (c *streamConnection) writeLoop(ctx context.Context) error {
	defer close(c.writeDone)
	for {
		msg, ok := c.outbound.Pop(ctx)
		if !ok {
			// A final broadcast (Device.Stop's delProperty, a last
			// setXxxVector) may have been pushed the instant before ctx was
			// canceled. Drain it before returning so Stop's ordering
			// (flush, then close the transport) actually delivers it.
			c.drainOutbound()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		if err := c.writeOne(msg); err != nil {
			return err
		}
	}
}

func (c *streamConnection) drainOutbound() {
	for {
		msg, ok := c.outbound.TryPop()
		if !ok {
			return
		}
		_ = c.writeOne(msg)
	}
}

func (c *streamConnection) writeOne(msg Message) error {
	b, err := Serialize(msg)
	if err != nil {
		if c.log != nil {
			c.log.WithField("tag", msg.Tag()).WithError(err).Warn("dropping message that failed to serialize")
		}
		return nil
	}
	b = append(b, '\n')
	if _, err := c.conn.Write(b); err != nil {
		return err
	}
	c.fire(TransportEventOutbound, msg)
	return nil
}

// Send enqueues msg for the writer goroutine. It never blocks.
func (c *streamConnection) Send(msg Message) error {
	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()
	if status != ConnectionStatusConnected && status != ConnectionStatusReconnecting {
		return ErrNotConnected
	}
	c.outbound.Push(msg)
	return nil
}

// Stop cancels the worker goroutines, closes the underlying stream, and
// waits for shutdown, aggregating every independent teardown error. The
// writer is given a chance to flush anything enqueued right up to the
// moment of cancellation (notably Device.Stop's closing delProperty)
// before the connection it writes to is closed out from under it.
func (c *streamConnection) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	parser := c.parser
	eg := c.eg
	writeDone := c.writeDone
	c.status = ConnectionStatusStopped
	c.mu.Unlock()

	var result *multierror.Error
	if cancel != nil {
		cancel()
	}
	if writeDone != nil {
		<-writeDone
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing connection: %w", err))
		}
	}
	if parser != nil {
		if err := parser.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing parser: %w", err))
		}
	}
	if eg != nil {
		if err := eg.Wait(); err != nil && err != context.Canceled {
			result = multierror.Append(result, fmt.Errorf("worker shutdown: %w", err))
		}
	}
	c.outbound.Close()
	c.fire(TransportEventDisconnection, nil)
	return result.ErrorOrNil()
}
