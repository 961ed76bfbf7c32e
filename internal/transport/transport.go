// Package transport maintains the client side of the realtime socket: it
// dials the server, pushes outbound envelopes from a bounded queue, decodes
// and validates inbound envelopes, and reconnects automatically with capped
// exponential backoff.
//
// The transport tears down no local state on disconnect; it only invokes the
// handler's connect hook after every successful (re)connect so the engine
// can re-announce presence.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "chatlink/contracts/chat/v1"
	"chatlink/internal/metrics"
)

const (
	// Subprotocol negotiated on dial.
	Subprotocol = "chatlink.v1"

	maxFrameBytes = 64 << 10 // 64 KiB

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout      = 5 * time.Second
	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second
	maxPingFailures          = 3

	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
)

// Handler receives transport callbacks.
//
// HandleEnvelope is invoked on the read goroutine; a slow handler delays
// reads but never loses envelopes.
type Handler interface {
	// HandleConnect runs after every successful (re)connect.
	HandleConnect()
	// HandleEnvelope delivers one validated inbound envelope.
	HandleEnvelope(env v1.Envelope)
}

// Options configures a Client.
type Options struct {
	URL string

	SendQueueSize     int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.SendQueueSize < minSendQueueSize {
		out.SendQueueSize = defaultSendQueueSize
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaultWriteTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = defaultHeartbeatInterval
	}
	if out.HeartbeatTimeout <= 0 {
		out.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if out.ReconnectMin <= 0 {
		out.ReconnectMin = defaultReconnectMin
	}
	if out.ReconnectMax < out.ReconnectMin {
		out.ReconnectMax = defaultReconnectMax
	}
	return out
}

// Client is a reconnecting websocket client.
type Client struct {
	log     *slog.Logger
	opts    Options
	handler Handler
	met     *metrics.Metrics

	send chan v1.Envelope
}

// New constructs a Client. The handler must be non-nil.
func New(log *slog.Logger, opts Options, handler Handler, met *metrics.Metrics) (*Client, error) {
	if handler == nil {
		return nil, errors.New("transport: nil handler")
	}
	if err := validateWSURL(opts.URL); err != nil {
		return nil, fmt.Errorf("transport: invalid url: %w", err)
	}
	if met == nil {
		met = metrics.NewNop()
	}

	o := opts.withDefaults()
	return &Client{
		log:     log,
		opts:    o,
		handler: handler,
		met:     met,
		send:    make(chan v1.Envelope, o.SendQueueSize),
	}, nil
}

// Emit enqueues an outbound envelope. Non-blocking: it reports false when
// the queue is full or the envelope is not a client-emittable kind. Emission
// is fire-and-forget; there is no per-action retry.
func (c *Client) Emit(env v1.Envelope) bool {
	if !v1.IsOutbound(env.Type) {
		c.log.Warn("ws.emit.reject", "type", env.Type)
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		c.log.Warn("ws.emit.drop", "type", env.Type)
		return false
	}
}

// Run dials and serves the connection until ctx is cancelled, reconnecting
// with capped exponential backoff after any failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.ReconnectMin
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Info("ws.dial.fail", "err", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, c.opts.ReconnectMax)
			continue
		}

		if !first {
			c.met.Reconnects.Inc()
		}
		first = false
		backoff = c.opts.ReconnectMin

		c.log.Info("ws.connected", "url", c.opts.URL)
		c.handler.HandleConnect()

		c.serveConn(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
		c.log.Info("ws.disconnected", "retry_in", backoff)
		if !sleepCtx(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, c.opts.ReconnectMax)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	if sp := conn.Subprotocol(); sp != "" && sp != Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol mismatch")
		return nil, fmt.Errorf("subprotocol mismatch: got=%q want=%q", sp, Subprotocol)
	}

	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

// serveConn runs the writer, heartbeat and read loops for one connection
// and returns when the connection is gone.
func (c *Client) serveConn(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case env := <-c.send:
				if err := writeEnvelope(ctx, conn, env, c.opts.WriteTimeout); err != nil {
					c.log.Info("ws.write.fail", "type", env.Type, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(c.opts.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, c.opts.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					c.log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				c.log.Info("ws.read.bad_json", "err", err)
				continue readLoop
			case readErrClose, readErrCtxDone, readErrConnClosed:
				shutdown(websocket.StatusNormalClosure, "closed")
			default:
				c.log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if err := env.Validate(); err != nil {
			// Unknown kinds are expected under protocol evolution; absorb.
			c.log.Debug("ws.read.bad_envelope", "err", err)
			continue readLoop
		}
		if !v1.IsInbound(env.Type) {
			c.log.Debug("ws.read.not_inbound", "type", env.Type)
			continue readLoop
		}

		c.handler.HandleEnvelope(env)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	<-heartbeatDone
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, errBadJSON{err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type errBadJSON struct{ err error }

func (e errBadJSON) Error() string { return "bad json: " + e.err.Error() }
func (e errBadJSON) Unwrap() error { return e.err }

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bj errBadJSON
	if errors.As(err, &bj) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- helpers ----

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
