package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	// Module is the log module of the owner.
	Module     string
	WriteWait  time.Duration
	PingPeriod time.Duration // zero disables keepalive pings
	ReadLimit  int64
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.Module == "" {
		o.Module = "wsconn"
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

// Conn pairs a gorilla connection with a buffered write pump and a read pump.
// Writes go through TrySend only; the pumps own the socket.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	send      chan []byte
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	started   atomic.Bool

	mu  sync.Mutex
	err error
}

// Dial opens a client connection.
func Dial(ctx context.Context, url string, header http.Header, opts Options) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return New(ws, opts), nil
}

// HandshakeError reports a rejected upgrade.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return "websocket handshake failed: " + http.StatusText(e.Status) + ": " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// New wraps an established connection. Call Run to start the pumps.
func New(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:      ws,
		opts:    opts,
		send:    make(chan []byte, opts.SendBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run starts the pumps. onMessage runs on the read goroutine for every text frame.
// onClose runs once after the connection is gone, with nil when closed locally.
func (c *Conn) Run(onMessage func([]byte), onClose func(error)) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.writePump()
	go func() {
		err := c.readPump(onMessage)
		c.shutdown(err)
		if onClose != nil {
			onClose(c.Err())
		}
	}()
}

func (c *Conn) TrySend(b []byte) error {
	select {
	case <-c.closing:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

// Close flushes queued frames, sends a close frame and waits for the pumps to stop.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
	if !c.started.Load() {
		c.shutdown(nil)
		return
	}
	select {
	case <-c.done:
	case <-time.After(2 * c.opts.WriteWait):
		c.shutdown(nil)
	}
}

func (c *Conn) Done() <-chan struct{} { return c.done }

// Err is the reason the connection died, nil after a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) shutdown(reason error) {
	c.doneOnce.Do(func() {
		select {
		case <-c.closing:
			reason = nil
		default:
		}
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		_ = c.ws.Close()
		close(c.done)
	})
}

func (c *Conn) writePump() {
	var ping <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-c.done:
			return
		case <-c.closing:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			c.shutdown(nil)
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", c.opts.Module).Msg("writePump write error")
				c.shutdown(err)
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", c.opts.Module).Msg("writePump ping failed")
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(kind int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, data)
}

func (c *Conn) readPump(onMessage func([]byte)) error {
	if c.opts.ReadLimit > 0 {
		c.ws.SetReadLimit(c.opts.ReadLimit)
	}
	if c.opts.PingPeriod > 0 {
		pongWait := c.opts.PingPeriod * 10 / 9
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", c.opts.Module).Msg("readPump unexpected close")
			} else {
				log.Debug().Err(err).Str("module", c.opts.Module).Msg("readPump closing")
			}
			return err
		}
		if kind != websocket.TextMessage || onMessage == nil {
			continue
		}
		onMessage(data)
	}
}
