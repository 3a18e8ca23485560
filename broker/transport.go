package broker

// Delivery is one consumed message together with its transport metadata.
type Delivery struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
	Tag           uint64
}

// DeliveryHandler consumes one delivery. For any given Conn, the transport
// must invoke handlers serially from a single dispatch goroutine; this is
// what lets the Coordinator mutate its cohort without further locking and
// what makes a client's response handler safe against its own publisher.
type DeliveryHandler func(Delivery)

// Transport is the external message fabric. The broker core never implements
// queueing, durability or delivery guarantees itself; it assumes a provided
// publish/consume primitive with named queues, correlation identifiers and
// reply addressing. See broker/memq for the in-process reference
// implementation and broker/natsmq for the NATS adapter.
type Transport interface {
	// Dial establishes an independent connection. Each Conn owns one serial
	// dispatch context for its consumers.
	Dial() (Conn, error)
}

// Conn is one connection to the transport.
type Conn interface {
	// OpenChannel opens a lightweight channel for queue operations.
	OpenChannel() (Channel, error)
	// Close tears the connection down abruptly. In-flight deliveries for its
	// consumers are dropped.
	Close() error
}

// Channel exposes queue declaration, publish and consume.
type Channel interface {
	// DeclareQueue declares a queue and returns its name. An empty name asks
	// the transport for a server-named queue; exclusive queues belong to the
	// declaring Conn and disappear with it. Declaring an existing durable
	// queue is idempotent.
	DeclareQueue(name string, durable, exclusive bool) (string, error)
	// DeleteQueue removes a queue and discards anything buffered on it.
	// Deleting a queue that does not exist is not an error.
	DeleteQueue(name string) error
	// Publish sends body to the named queue, carrying the correlation id and
	// reply address as message metadata.
	Publish(queue, correlationID, replyTo string, body []byte) error
	// Consume attaches a handler to the queue. Messages published before the
	// consumer attached are delivered first, in publish order.
	Consume(queue string, h DeliveryHandler) error
	// Ack acknowledges a delivery by tag. Transports without explicit
	// acknowledgement treat this as a no-op.
	Ack(tag uint64) error
	// Close releases the channel.
	Close() error
}
