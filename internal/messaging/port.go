package messaging

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a Port after Close.
var ErrClosed = errors.New("port closed")

// Envelope is one delivered frame: the peer's declared origin and the raw
// message.
type Envelope struct {
	Origin string
	Data   []byte
}

// Sink accepts outbound frames.
type Sink interface {
	Send(ctx context.Context, data []byte) error
}

// Port is a bidirectional message channel to one peer.
type Port interface {
	Sink
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

// pipePort is one end of an in-process Pipe.
type pipePort struct {
	origin string
	in     chan Envelope
	peer   *pipePort
	done   chan struct{}
	once   *sync.Once
}

// Pipe returns two connected ports. Frames sent on a arrive at b tagged
// with originA, and the reverse. Closing either end closes both.
func Pipe(originA, originB string) (Port, Port) {
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipePort{origin: originA, in: make(chan Envelope, 64), done: done, once: once}
	b := &pipePort{origin: originB, in: make(chan Envelope, 64), done: done, once: once}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipePort) Send(ctx context.Context, data []byte) error {
	frame := Envelope{Origin: p.origin, Data: append([]byte(nil), data...)}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.peer.in <- frame:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipePort) Receive(ctx context.Context) (Envelope, error) {
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

func (p *pipePort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
