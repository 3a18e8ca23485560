// Package memq is an in-process reference implementation of the broker
// transport contract, used by tests and the demo runner. It provides named
// durable queues shared across connections, server-named exclusive queues
// that die with their connection, and one serial dispatch goroutine per
// connection so consumer handlers never run concurrently with each other.
//
// memq is a test/demo double for an external message broker; it makes no
// durability or redelivery promises beyond process lifetime.
package memq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/joint-sim/joint-sim/broker"
)

// ErrConnClosed reports an operation on a closed connection.
var ErrConnClosed = errors.New("memq: connection closed")

// pumpBuffer is the per-connection dispatch buffer. Publishers block when a
// consumer falls this far behind.
const pumpBuffer = 128

// Transport is an in-process message fabric. The zero value is not usable;
// create one with New. All connections dialed from the same Transport share
// its queue registry.
type Transport struct {
	mu     sync.Mutex
	queues map[string]*queue
	ephSeq uint64
}

// New creates an empty in-process transport.
func New() *Transport {
	return &Transport{queues: make(map[string]*queue)}
}

// Dial returns a new connection with its own running dispatch loop.
func (t *Transport) Dial() (broker.Conn, error) {
	c := &conn{
		t:    t,
		pump: make(chan dispatch, pumpBuffer),
		done: make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

func (t *Transport) declare(c *conn, name string, exclusive bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name == "" {
		t.ephSeq++
		name = fmt.Sprintf("ephq-%d", t.ephSeq)
	}
	if _, exists := t.queues[name]; exists {
		return name, nil
	}
	q := &queue{name: name}
	if exclusive {
		q.owner = c
	}
	t.queues[name] = q
	return name, nil
}

func (t *Transport) delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.queues, name)
}

func (t *Transport) lookup(name string) (*queue, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[name]
	return q, ok
}

// dropOwned removes every exclusive queue owned by the closing connection.
func (t *Transport) dropOwned(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, q := range t.queues {
		if q.owner == c {
			delete(t.queues, name)
		}
	}
}

// dispatch pairs one delivery with the handler that should consume it.
type dispatch struct {
	h broker.DeliveryHandler
	d broker.Delivery
}

type conn struct {
	t         *Transport
	pump      chan dispatch
	done      chan struct{}
	closeOnce sync.Once
}

// loop is the connection's single dispatch goroutine: all consumer handlers
// registered through this connection run here, serially.
func (c *conn) loop() {
	for {
		select {
		case dsp := <-c.pump:
			dsp.h(dsp.d)
		case <-c.done:
			return
		}
	}
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) OpenChannel() (broker.Channel, error) {
	if c.closed() {
		return nil, ErrConnClosed
	}
	return &channel{c: c}, nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.t.dropOwned(c)
	})
	return nil
}

// push hands one delivery to this connection's dispatch loop. Deliveries for
// a closed connection are dropped.
func (c *conn) push(dsp dispatch) {
	select {
	case c.pump <- dsp:
	case <-c.done:
	}
}

type channel struct {
	c *conn
}

func (ch *channel) DeclareQueue(name string, durable, exclusive bool) (string, error) {
	if ch.c.closed() {
		return "", ErrConnClosed
	}
	return ch.c.t.declare(ch.c, name, exclusive)
}

func (ch *channel) DeleteQueue(name string) error {
	if ch.c.closed() {
		return ErrConnClosed
	}
	ch.c.t.delete(name)
	return nil
}

func (ch *channel) Publish(queueName, correlationID, replyTo string, body []byte) error {
	if ch.c.closed() {
		return ErrConnClosed
	}
	q, ok := ch.c.t.lookup(queueName)
	if !ok {
		return fmt.Errorf("memq: publish to unknown queue %q", queueName)
	}
	q.publish(broker.Delivery{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
	})
	return nil
}

func (ch *channel) Consume(queueName string, h broker.DeliveryHandler) error {
	if ch.c.closed() {
		return ErrConnClosed
	}
	q, ok := ch.c.t.lookup(queueName)
	if !ok {
		return fmt.Errorf("memq: consume from unknown queue %q", queueName)
	}
	return q.consume(ch.c, h)
}

// Ack is a no-op: memq deliveries are at-most-once within the process.
func (ch *channel) Ack(uint64) error { return nil }

func (ch *channel) Close() error { return nil }

// queue buffers deliveries until a consumer attaches, then routes them to
// the consumer connection's dispatch loop.
type queue struct {
	name  string
	owner *conn // nil for shared durable queues

	mu      sync.Mutex
	backlog []broker.Delivery
	handler broker.DeliveryHandler
	hconn   *conn
	tagSeq  uint64

	// pushMu serializes dispatch pushes in tag order. It is always acquired
	// while holding mu and released after the push, so a slow consumer blocks
	// only this queue's publishers, never mu itself.
	pushMu sync.Mutex
}

func (q *queue) publish(d broker.Delivery) {
	q.mu.Lock()
	q.tagSeq++
	d.Tag = q.tagSeq
	if q.handler == nil {
		q.backlog = append(q.backlog, d)
		q.mu.Unlock()
		return
	}
	h, hc := q.handler, q.hconn
	q.pushMu.Lock()
	q.mu.Unlock()

	hc.push(dispatch{h: h, d: d})
	q.pushMu.Unlock()
}

func (q *queue) consume(c *conn, h broker.DeliveryHandler) error {
	q.mu.Lock()
	if q.handler != nil {
		q.mu.Unlock()
		return fmt.Errorf("memq: queue %q already has a consumer", q.name)
	}
	q.handler = h
	q.hconn = c
	pending := q.backlog
	q.backlog = nil
	q.pushMu.Lock()
	q.mu.Unlock()

	// Flush anything published before the consumer attached, ahead of any
	// publish that raced with the handler installation.
	for _, d := range pending {
		c.push(dispatch{h: h, d: d})
	}
	q.pushMu.Unlock()
	return nil
}
