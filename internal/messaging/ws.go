package messaging

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
	wsMaxFrame  = 4 << 20
)

// WSOptions tunes a WebsocketPort.
type WSOptions struct {
	// InboundRate caps frames per second read from the peer; excess frames
	// are dropped. Zero disables the limit.
	InboundRate  float64
	InboundBurst int
}

// WebsocketPort is a Port over a websocket connection. A write pump owns
// all writes and pings; a read pump feeds Receive.
type WebsocketPort struct {
	conn    *websocket.Conn
	origin  string
	limiter *rate.Limiter

	out  chan []byte
	in   chan Envelope
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewWebsocketPort starts the pumps on conn. origin is the peer's declared
// origin, stamped on every inbound envelope.
func NewWebsocketPort(conn *websocket.Conn, origin string, opts WSOptions) *WebsocketPort {
	p := &WebsocketPort{
		conn:   conn,
		origin: origin,
		out:    make(chan []byte, 32),
		in:     make(chan Envelope, 32),
		done:   make(chan struct{}),
	}
	if opts.InboundRate > 0 {
		burst := opts.InboundBurst
		if burst <= 0 {
			burst = int(opts.InboundRate)
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.InboundRate), burst)
	}
	conn.SetReadLimit(wsMaxFrame)
	go p.writePump()
	go p.readPump()
	return p
}

// Upgrade accepts a websocket on w using policy as the origin check.
func Upgrade(w http.ResponseWriter, r *http.Request, policy OriginPolicy, opts WSOptions) (*WebsocketPort, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.CheckRequest,
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewWebsocketPort(conn, r.Header.Get("Origin"), opts), nil
}

// Dial connects to a websocket endpoint as a client declaring origin. Frames
// from the server are stamped with the server URL's origin.
func Dial(ctx context.Context, rawURL, origin string, opts WSOptions) (*WebsocketPort, error) {
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, h)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return NewWebsocketPort(conn, serverOrigin(rawURL), opts), nil
}

// serverOrigin maps ws://host/path to http://host.
func serverOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func (p *WebsocketPort) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.Close()
}

func (p *WebsocketPort) closedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	return ErrClosed
}

func (p *WebsocketPort) writePump() {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = p.conn.Close()
			return
		case data := <-p.out:
			if err := p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				p.fail(err)
				continue
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.fail(err)
			}
		case <-ticker.C:
			if err := p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				p.fail(err)
				continue
			}
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.fail(err)
			}
		}
	}
}

func (p *WebsocketPort) readPump() {
	if err := p.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		p.fail(err)
		return
	}
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] read from %s: %v", p.origin, err)
				p.fail(err)
				return
			}
			p.Close()
			return
		}
		if p.limiter != nil && !p.limiter.Allow() {
			log.Printf("[ws] rate limit: dropping frame from %s", p.origin)
			continue
		}
		select {
		case p.in <- Envelope{Origin: p.origin, Data: data}:
		case <-p.done:
			return
		}
	}
}

func (p *WebsocketPort) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return p.closedErr()
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return p.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WebsocketPort) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	default:
	}
	select {
	case env := <-p.in:
		return env, nil
	case <-p.done:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Origin returns the peer's declared origin.
func (p *WebsocketPort) Origin() string { return p.origin }

func (p *WebsocketPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
