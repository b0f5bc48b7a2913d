package messaging

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
)

// outbox stamps a per-sender sequence number on every message it sends.
type outbox struct {
	sink Sink
	seq  atomic.Uint64
}

func (o *outbox) send(ctx context.Context, m Message) error {
	if o.sink == nil {
		return nil
	}
	m.Seq = o.seq.Add(1)
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return o.sink.Send(ctx, data)
}

// receive checks the origin of env and decodes it.
func receive(policy OriginPolicy, env Envelope) (Message, error) {
	if err := policy.Check(env.Origin); err != nil {
		return Message{}, err
	}
	return Decode(env.Data)
}

// serve feeds every frame from port to handle until ctx ends or the port
// closes. Rejected and undecodable frames are logged and skipped.
func serve(ctx context.Context, name string, port Port, handle func(context.Context, Envelope) error) error {
	for {
		env, err := port.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := handle(ctx, env); err != nil {
			logRejected(name, env, err)
		}
	}
}

func logRejected(name string, env Envelope, err error) {
	switch {
	case errors.Is(err, ErrUntrustedOrigin):
		log.Printf("[%s] WARN: ignoring message from untrusted origin %q", name, env.Origin)
	case errors.Is(err, ErrUnknownMessage), errors.Is(err, ErrMalformed):
		log.Printf("[%s] ignoring message: %v", name, err)
	default:
		log.Printf("[%s] handle message: %v", name, err)
	}
}
