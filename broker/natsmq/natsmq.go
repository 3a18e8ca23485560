// Package natsmq adapts a NATS server to the broker transport contract.
//
// Mapping: a named durable queue becomes a subject with a same-named queue
// group (so multiple coordinators could share the load without double
// delivery); a server-named exclusive reply queue becomes a unique inbox
// subject; the correlation id travels in a message header and the reply
// address in the NATS reply field. Core NATS is at-most-once, so Ack is a
// no-op; durability and redelivery belong to the server deployment, not to
// this adapter.
//
// The nats client runs each subscription's callbacks on a single goroutine,
// and the broker consumes at most one queue per connection, which satisfies
// the transport contract's serial-dispatch requirement.
package natsmq

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/joint-sim/joint-sim/broker"
)

// correlationHeader carries the request's correlation identifier.
const correlationHeader = "Correlation-Id"

// Transport dials NATS connections for the broker.
type Transport struct {
	url  string
	opts []nats.Option
}

// New creates a transport for the given server URL. Extra options are passed
// through to nats.Connect.
func New(url string, opts ...nats.Option) *Transport {
	if url == "" {
		url = nats.DefaultURL
	}
	return &Transport{url: url, opts: opts}
}

// Dial connects to the NATS server.
func (t *Transport) Dial() (broker.Conn, error) {
	nc, err := nats.Connect(t.url, t.opts...)
	if err != nil {
		return nil, fmt.Errorf("natsmq: connect %s: %w", t.url, err)
	}
	return &conn{nc: nc}, nil
}

type conn struct {
	nc *nats.Conn
}

func (c *conn) OpenChannel() (broker.Channel, error) {
	return &channel{nc: c.nc, exclusive: make(map[string]bool)}, nil
}

func (c *conn) Close() error {
	c.nc.Close()
	return nil
}

type channel struct {
	nc   *nats.Conn
	subs []*nats.Subscription

	mu        sync.Mutex
	exclusive map[string]bool
}

// DeclareQueue maps queue declaration onto subjects. Subjects need no
// broker-side declaration; an empty name yields a fresh inbox subject.
func (ch *channel) DeclareQueue(name string, durable, exclusive bool) (string, error) {
	if name == "" {
		name = nats.NewInbox()
	}
	if exclusive {
		ch.mu.Lock()
		ch.exclusive[name] = true
		ch.mu.Unlock()
	}
	return name, nil
}

// DeleteQueue is a no-op: subjects hold no server state in core NATS.
func (ch *channel) DeleteQueue(string) error { return nil }

func (ch *channel) Publish(queue, correlationID, replyTo string, body []byte) error {
	msg := &nats.Msg{
		Subject: queue,
		Reply:   replyTo,
		Data:    body,
		Header:  nats.Header{},
	}
	msg.Header.Set(correlationHeader, correlationID)
	if err := ch.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsmq: publish to %q: %w", queue, err)
	}
	return nil
}

func (ch *channel) Consume(queue string, h broker.DeliveryHandler) error {
	cb := func(m *nats.Msg) {
		h(broker.Delivery{
			Body:          m.Data,
			CorrelationID: m.Header.Get(correlationHeader),
			ReplyTo:       m.Reply,
		})
	}

	ch.mu.Lock()
	excl := ch.exclusive[queue]
	ch.mu.Unlock()

	var (
		sub *nats.Subscription
		err error
	)
	if excl {
		sub, err = ch.nc.Subscribe(queue, cb)
	} else {
		// Same-named queue group: competing consumers, no double delivery.
		sub, err = ch.nc.QueueSubscribe(queue, queue, cb)
	}
	if err != nil {
		return fmt.Errorf("natsmq: consume %q: %w", queue, err)
	}
	ch.subs = append(ch.subs, sub)
	return nil
}

// Ack is a no-op: core NATS delivery is at-most-once.
func (ch *channel) Ack(uint64) error { return nil }

func (ch *channel) Close() error {
	for _, sub := range ch.subs {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	ch.subs = nil
	return nil
}
