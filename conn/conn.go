// Package conn implements the multiplexed RESP3 connection engine: a
// single long-lived duplex session that coalesces writes, demultiplexes
// replies back to their originating callers in FIFO order, routes push
// frames separately, runs ping/idle health checks, and reconnects with
// request replay on transport failure.
package conn

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"

	"github.com/pzhenzhou/respcore"
	"github.com/pzhenzhou/respcore/internal/logging"
)

type state int32

const (
	stateIdle state = iota
	stateResolving
	stateConnecting
	stateHandshaking
	stateRunning
	stateDraining
	stateClosed
)

// Conn is a multiplexed connection to one server endpoint. The zero value
// is not usable; construct with New.
type Conn struct {
	opts     Options
	resolver Resolver
	dialer   Dialer
	log      logr.Logger
	id       string

	state atomic.Int32

	mu        sync.Mutex
	stream    Stream
	dec       *respcore.Decoder
	unflushed *fifo
	inflight  *fifo

	arena *arena

	writeWake chan struct{}
	pushCh    chan []respcore.Node

	closeCh   chan struct{}
	closeOnce sync.Once

	lastData atomic.Int64
}

// New constructs a Conn. Call Run to start it; Run blocks until the
// context is canceled or Close is called.
func New(opts Options, resolver Resolver, dialer Dialer) *Conn {
	opts = opts.WithDefaults()
	c := &Conn{
		opts:      opts,
		resolver:  resolver,
		dialer:    dialer,
		log:       logging.New().WithName("conn"),
		id:        shortuuid.New(),
		unflushed: &fifo{},
		inflight:  &fifo{},
		arena:     newArena(),
		writeWake: make(chan struct{}, 1),
		pushCh:    make(chan []respcore.Node, opts.PushChannelSize),
		closeCh:   make(chan struct{}),
	}
	return c
}

// ID returns this connection's short, log-friendly identifier.
func (c *Conn) ID() string { return c.id }

func (c *Conn) setState(s state) { c.state.Store(int32(s)) }
func (c *Conn) getState() state  { return state(c.state.Load()) }

// Pushes returns the channel on which fully-decoded server push frames are
// delivered, in arrival order.
func (c *Conn) Pushes() <-chan []respcore.Node { return c.pushCh }

// Run drives the connection: resolve, dial, handshake, then run the
// writer/reader/ping/idle-check tasks until a fatal error or context
// cancellation occurs, backing off and reconnecting in between, until
// Close is called or ctx is done.
func (c *Conn) Run(ctx context.Context) error {
	// Tie every phase (dial, handshake, running) to Close as well as to
	// the caller's context, and make sure no waiter is left unresolved
	// when Run exits for any reason.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer func() {
		c.setState(stateClosed)
		cause := ErrNotConnected
		select {
		case <-c.closeCh:
			cause = ErrOperationCanceled
		default:
		}
		c.failAll(cause)
	}()

	for {
		select {
		case <-c.closeCh:
			return ErrOperationCanceled
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stream, err := c.reconnect(ctx)
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.stream = stream
		dec := respcore.NewDecoder(stream)
		dec.SetMaxSize(c.opts.MaxReadSize)
		c.dec = dec
		c.mu.Unlock()

		c.setState(stateHandshaking)
		if err := c.runHandshake(ctx); err != nil {
			c.log.Error(err, "handshake failed", "conn_id", c.id)
			c.teardown(err)
			if waitErr := c.waitBeforeRetry(ctx); waitErr != nil {
				return waitErr
			}
			continue
		}

		c.setState(stateRunning)
		c.lastData.Store(time.Now().UnixNano())
		c.log.Info("connection established", "conn_id", c.id, "host", c.opts.Host, "port", c.opts.Port)

		// wake the writer loop immediately in case requests survived
		// teardown from a prior attempt (RetryOnDisconnect) and are
		// already queued in unflushed.
		select {
		case c.writeWake <- struct{}{}:
		default:
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.writerLoop(gctx) })
		g.Go(func() error { return c.readerLoop(gctx) })
		g.Go(func() error { return c.pingTask(gctx) })
		g.Go(func() error { return c.idleCheckTask(gctx) })
		// The reader and writer suspend in blocking stream calls that no
		// context watches; closing the stream is the only way to unblock
		// them once a sibling task fails (or Close cancels ctx).
		g.Go(func() error {
			<-gctx.Done()
			c.mu.Lock()
			s := c.stream
			c.mu.Unlock()
			if s != nil {
				_ = s.Close()
			}
			return nil
		})
		runErr := g.Wait()

		c.setState(stateDraining)
		c.log.Error(runErr, "connection lost", "conn_id", c.id)
		c.teardown(runErr)

		if !shouldReconnect(runErr) {
			select {
			case <-c.closeCh:
				return ErrOperationCanceled
			default:
			}
			return runErr
		}

		if waitErr := c.waitBeforeRetry(ctx); waitErr != nil {
			return waitErr
		}
	}
}

// shouldReconnect classifies an error from the running phase as one that
// justifies tearing the stream down and reconnecting (a transport failure,
// an idle timeout, or a decode error, since any of those can desynchronize
// the multiplexer) versus one that should stop Run outright (context
// cancellation, or anything IsRetryableIOError doesn't recognize as
// transport-level).
func shouldReconnect(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrIdleTimeout) || errors.Is(err, respcore.ErrUnexpectedEOF) ||
		errors.Is(err, respcore.ErrMaxSizeExceeded) {
		return true
	}
	var decodeErr *respcore.DecodeError
	if errors.As(err, &decodeErr) {
		return true
	}
	return IsRetryableIOError(err)
}

func (c *Conn) waitBeforeRetry(ctx context.Context) error {
	select {
	case <-c.closeCh:
		return ErrOperationCanceled
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.opts.ReconnectWaitInterval):
		return nil
	}
}

// Close idempotently tears the connection down, cancels every outstanding
// waiter with ErrOperationCanceled, discards any push frames still queued
// on the push channel, and stops future reconnect attempts.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.teardown(ErrOperationCanceled)
		c.failAll(ErrOperationCanceled)
		for drained := false; !drained; {
			select {
			case <-c.pushCh:
			default:
				drained = true
			}
		}
		c.setState(stateClosed)
	})
	return nil
}

// teardown closes the current stream and resolves every queued waiter.
// cause drives both the retention decision and the delivered error:
//   - Close (cause == ErrOperationCanceled) is terminal for every queued
//     waiter, inflight or not; nothing is retained for replay.
//   - idle timeout (cause == ErrIdleTimeout) is terminal only for the
//     inflight head, matching the idle-check task's own contract ("fail
//     all in-flight waiters"); unflushed requests that were never sent
//     still go through the normal retention path below.
//   - any other cause (an ordinary transport error, or a failed HELLO) is
//     never terminal: a request that was never sent, or whose reply was
//     never begun, is retained for replay if it carries RetryOnDisconnect;
//     everything else fails with ErrNotConnected. A request whose reply
//     was already partially consumed always fails with ErrReadInterrupted
//     instead, since it is never replayed (see DESIGN.md).
func (c *Conn) teardown(cause error) {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}

	closing := errors.Is(cause, ErrOperationCanceled)
	inflightTerminal := closing || errors.Is(cause, ErrIdleTimeout)

	c.mu.Lock()
	inflight := c.inflight.drain()
	unflushed := c.unflushed.drain()
	var retained []handle
	fail := func(h handle, terminal bool) {
		e, ok := c.arena.get(h)
		if !ok {
			return
		}
		if !terminal && e.req.RetryOnDisconnect && !e.consumedAny {
			retained = append(retained, h)
			return
		}
		c.arena.delete(h)
		switch {
		case terminal:
			deliver(e, cause)
		case e.consumedAny:
			deliver(e, ErrReadInterrupted)
		default:
			deliver(e, ErrNotConnected)
		}
	}
	for _, h := range inflight {
		fail(h, inflightTerminal)
	}
	for _, h := range unflushed {
		fail(h, closing)
	}
	for _, h := range retained {
		c.unflushed.pushBack(h)
	}
	c.mu.Unlock()
}

func (c *Conn) failAll(cause error) {
	c.arena.drainAll(func(e *responseExpectation) {
		deliver(e, cause)
	})
}

// Exec submits req for transmission, binding its replies to adapter.
// Exec returns once the request is queued, not once it is answered; the
// caller must receive from the returned channel (exactly one send) to
// learn the outcome and the wire size of the consumed replies.
func (c *Conn) Exec(ctx context.Context, req *respcore.Request, adapter respcore.Adapter) <-chan Result {
	done := make(chan Result, 1)
	if c.getState() == stateClosed {
		done <- Result{Err: ErrOperationCanceled}
		return done
	}
	if req.Commands == 0 {
		done <- Result{}
		return done
	}
	e := &responseExpectation{
		req:       req,
		adapter:   adapter,
		remaining: req.Commands,
		done:      done,
	}
	c.mu.Lock()
	c.unflushed.pushBack(c.arena.put(e))
	c.mu.Unlock()

	recordQueueDepth(c.id, c.arena.len())
	select {
	case c.writeWake <- struct{}{}:
	default:
	}
	return done
}

// runHandshake wraps handshake with a watchdog that closes the stream if
// the context dies while the handshake's blocking read is outstanding; the
// errgroup watchdog is not running yet during this phase.
func (c *Conn) runHandshake(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			s := c.stream
			c.mu.Unlock()
			if s != nil {
				_ = s.Close()
			}
		case <-done:
		}
	}()
	err := c.handshake()
	close(done)
	return err
}

// handshake sends HELLO 3 (with AUTH/SETNAME as configured) synchronously,
// bypassing the normal queue, and validates the reply is not a server
// error.
func (c *Conn) handshake() error {
	req := respcore.NewRequest()
	req.Hello = true
	args := []any{"3"}
	if c.opts.Password != "" {
		user := c.opts.Username
		if user == "" {
			user = "default"
		}
		args = append(args, "AUTH", user, c.opts.Password)
	}
	if c.opts.ClientName != "" {
		args = append(args, "SETNAME", c.opts.ClientName)
	}
	if err := req.Push("HELLO", args...); err != nil {
		return err
	}

	c.mu.Lock()
	stream := c.stream
	dec := c.dec
	c.mu.Unlock()
	if stream == nil || dec == nil {
		return ErrNotConnected
	}

	if _, err := stream.Write(req.Bytes()); err != nil {
		return errors.Join(ErrHandshakeFailed, err)
	}

	var fields []respcore.Node
	t, err := dec.DecodeNext(respcore.NodeSeq(&fields))
	if err != nil {
		return errors.Join(ErrHandshakeFailed, err)
	}
	if t == respcore.TypeSimpleError || t == respcore.TypeBlobError {
		return ErrHandshakeFailed
	}
	return nil
}

// writerLoop coalesces queued requests into batched writes. It suspends
// on the wakeup signal and drains the unflushed queue in one or more
// flushes, moving each flushed request onto the inflight queue.
func (c *Conn) writerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.writeWake:
		}

		for {
			c.mu.Lock()
			if c.unflushed.len() == 0 {
				c.mu.Unlock()
				break
			}
			var buf bytes.Buffer
			var flushed []handle
			if c.opts.CoalesceRequests {
				flushed = c.unflushed.drain()
			} else if h, ok := c.unflushed.front(); ok {
				c.unflushed.popFront()
				flushed = []handle{h}
			}
			for _, h := range flushed {
				if e, ok := c.arena.get(h); ok {
					buf.Write(e.req.Bytes())
				}
			}
			stream := c.stream
			c.mu.Unlock()

			if stream == nil {
				c.mu.Lock()
				for _, h := range flushed {
					c.unflushed.pushBack(h)
				}
				c.mu.Unlock()
				return ErrNotConnected
			}

			// Queue the waiters before writing: the server may answer
			// before Write returns, and the reader must find them.
			c.mu.Lock()
			for _, h := range flushed {
				if e, ok := c.arena.get(h); ok && !e.req.NoReply {
					c.inflight.pushBack(h)
				}
			}
			c.mu.Unlock()

			if buf.Len() > 0 {
				n, err := stream.Write(buf.Bytes())
				if err != nil {
					// The flushed requests have not observed any reply;
					// park the NoReply ones on inflight too so teardown
					// applies the normal retention rules (replay
					// RetryOnDisconnect, fail the rest with ErrNotConnected).
					c.mu.Lock()
					for _, h := range flushed {
						if e, ok := c.arena.get(h); ok && e.req.NoReply {
							c.inflight.pushBack(h)
						}
					}
					c.mu.Unlock()
					return err
				}
				addBytesWritten(c.id, n)
			}

			c.mu.Lock()
			for _, h := range flushed {
				e, ok := c.arena.get(h)
				if !ok {
					continue
				}
				if e.req.NoReply {
					c.arena.delete(h)
					deliver(e, nil)
				}
			}
			c.mu.Unlock()
		}
	}
}

// replyRouter is the Adapter bound for exactly one DecodeNext call; it
// decides from the first emitted node whether this is a push frame or the
// reply to the head-of-inflight waiter, and continues draining the
// remainder of the reply even after the bound adapter rejects a node, so
// the wire stays synchronized.
type replyRouter struct {
	c       *Conn
	decided bool
	isPush  bool
	pushBuf []respcore.Node
	current *responseExpectation
	handle  handle
}

func (rr *replyRouter) Consume(index int, n respcore.Node) error {
	if !rr.decided {
		rr.decided = true
		if n.Type == respcore.TypePush {
			// The frame delivered on the push channel is the element
			// sequence; the wrapping push parent carries no payload.
			rr.isPush = true
			return nil
		}
		rr.c.mu.Lock()
		h, ok := rr.c.inflight.front()
		rr.c.mu.Unlock()
		if !ok {
			return errors.New("conn: reply received with no waiter queued")
		}
		e, ok := rr.c.arena.get(h)
		if !ok {
			return errors.New("conn: reply received for unknown waiter")
		}
		rr.current = e
		rr.handle = h
	}

	if rr.isPush {
		rr.pushBuf = append(rr.pushBuf, n)
		return nil
	}

	rr.current.consumedAny = true
	if rr.current.failed != nil {
		return nil
	}
	if err := rr.current.adapter.Consume(index, n); err != nil {
		rr.current.failed = err
	}
	return nil
}

// readerLoop demultiplexes decoded replies to the head of the inflight
// queue and forwards push frames to the push channel, backpressuring the
// reader (and therefore replies) when the push channel is full.
func (c *Conn) readerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.mu.Lock()
		dec := c.dec
		c.mu.Unlock()
		if dec == nil {
			return ErrNotConnected
		}

		// BytesRead alone overcounts a reply when one stream read pulled
		// several replies into the buffer; subtracting what is still
		// buffered gives the bytes this reply actually consumed.
		before := dec.BytesRead() - int64(dec.Buffered())
		rr := &replyRouter{c: c}
		_, err := dec.DecodeNext(rr)
		if err != nil {
			return err
		}
		replySize := int(dec.BytesRead() - int64(dec.Buffered()) - before)
		addBytesRead(c.id, replySize)
		c.lastData.Store(time.Now().UnixNano())

		if rr.isPush {
			incrPushFrames(c.id)
			select {
			case c.pushCh <- rr.pushBuf:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		e := rr.current
		if e == nil {
			continue
		}
		e.bytesRead += replySize
		e.remaining--
		if e.remaining <= 0 {
			c.mu.Lock()
			c.inflight.popFront()
			c.arena.delete(rr.handle)
			c.mu.Unlock()
			deliver(e, e.failed)
		}
	}
}

// pingTask issues a PING on every health-check tick at which no request is
// in flight; its reply is absorbed internally and never surfaced.
func (c *Conn) pingTask(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.mu.Lock()
			busy := c.inflight.len() > 0
			c.mu.Unlock()
			if busy {
				continue
			}
			req := respcore.NewRequest()
			if err := req.Push("PING", c.opts.HealthCheckID); err != nil {
				continue
			}
			// Do not block teardown: the ping's waiter is resolved by
			// teardown itself once the group unwinds, so waiting on it
			// here without also watching ctx would deadlock Run.
			select {
			case <-c.Exec(ctx, req, respcore.Ignore()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// idleCheckTask declares the connection stalled, and fatal, when no bytes
// have been observed for more than twice the health-check interval.
//
// lastData is only touched once per completed top-level reply by
// readerLoop, so a single reply whose wire transfer spans more than
// threshold (a large blob string trickling in) would otherwise look
// stalled even though bytes are still arriving. Buffered() and BytesRead()
// both advance as soon as DecodeNext's underlying reads see anything, so
// this checks those directly rather than trusting lastData alone.
func (c *Conn) idleCheckTask(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.HealthCheckInterval)
	defer ticker.Stop()
	threshold := 2 * c.opts.HealthCheckInterval
	var lastBytesRead int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.mu.Lock()
			dec := c.dec
			c.mu.Unlock()
			if dec != nil {
				if n := dec.BytesRead(); n != lastBytesRead {
					lastBytesRead = n
					c.lastData.Store(time.Now().UnixNano())
				} else if dec.Buffered() > 0 {
					c.lastData.Store(time.Now().UnixNano())
				}
			}
			last := time.Unix(0, c.lastData.Load())
			if time.Since(last) > threshold {
				incrHealthCheckFailed(c.id)
				return ErrIdleTimeout
			}
		}
	}
}
