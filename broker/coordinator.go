package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRequestQueue is the shared durable queue every deployment's clients
// publish requests to.
const DefaultRequestQueue = "jointsim_coordinator_queue"

// readyPollInterval is how often Start re-checks the readiness flag while
// connection establishment runs in the background.
const readyPollInterval = time.Millisecond

// ConnState is a stage of the coordinator's connection lifecycle.
type ConnState int32

const (
	// Disconnected is the initial state, before Start.
	Disconnected ConnState = iota
	// Connecting means the transport dial is in flight.
	Connecting
	// ChannelOpening means the connection is up and a channel is opening.
	ChannelOpening
	// QueueDeclaring means the request queue is being declared.
	QueueDeclaring
	// Ready means consumption has begun and Start may return.
	Ready
)

// String returns a readable state name.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ChannelOpening:
		return "channel-opening"
	case QueueDeclaring:
		return "queue-declaring"
	case Ready:
		return "ready"
	default:
		return "invalid"
	}
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRequestQueue overrides the shared request queue name.
func WithRequestQueue(name string) CoordinatorOption {
	return func(c *Coordinator) { c.queue = name }
}

// WithLogger directs coordinator logging to the given logger instead of the
// process-wide one.
func WithLogger(logger *logrus.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = logger }
}

// WithFailureHandler replaces the computation-failure handler. The handler
// receives the *ComputationError after the failing cohort has been abandoned;
// hosts may crash, drain, or report. The cohort is never retried and its
// callers are never answered regardless of what the handler does.
func WithFailureHandler(h func(error)) CoordinatorOption {
	return func(c *Coordinator) { c.onFailure = h }
}

// Coordinator is the long-lived broker between agent clients and the joint
// engine. It pools per-participant requests into a cohort, releases when the
// roster is complete, invokes the engine exactly once per release, and fans
// the single joint result back out to every waiting caller.
type Coordinator struct {
	engine    JointEngine
	transport Transport
	queue     string
	names     []string

	// cohort is confined to the arrival/release critical section. The mutex
	// is the only guard needed even for transports that dispatch from their
	// own goroutine, because all mutation happens between Lock and Unlock in
	// onRequest.
	mu     sync.Mutex
	cohort *Cohort

	state     atomic.Int32
	startErr  atomic.Pointer[error]
	conn      Conn
	ch        Channel
	onFailure func(error)
	log       *logrus.Logger
}

// NewCoordinator creates a coordinator for the given engine and transport.
// Panics if either is nil.
func NewCoordinator(engine JointEngine, transport Transport, opts ...CoordinatorOption) *Coordinator {
	if engine == nil {
		panic("Coordinator: engine must not be nil")
	}
	if transport == nil {
		panic("Coordinator: transport must not be nil")
	}
	c := &Coordinator{
		engine:    engine,
		transport: transport,
		queue:     DefaultRequestQueue,
		names:     engine.Names(),
		cohort:    NewCohort(),
		log:       logrus.StandardLogger(),
	}
	c.onFailure = c.defaultFailureHandler
	for _, opt := range opts {
		opt(c)
	}
	if len(c.names) == 0 {
		panic("Coordinator: engine roster is empty")
	}
	return c
}

// State returns the current connection-lifecycle state.
func (c *Coordinator) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Coordinator) setState(s ConnState) {
	c.state.Store(int32(s))
	c.log.Debugf("coordinator state -> %s", s)
}

// Start brings the broker up and blocks until it is consuming requests.
// Establishment runs in the background; the caller polls the readiness flag,
// so Start is synchronous from its perspective. A transport failure during
// establishment is returned; there is no retry.
func (c *Coordinator) Start() error {
	c.log.Infof("starting coordinator on queue %q for %d participants", c.queue, len(c.names))

	go c.connect()

	for {
		if c.State() == Ready {
			c.log.Info("coordinator is ready")
			return nil
		}
		if errp := c.startErr.Load(); errp != nil {
			return *errp
		}
		time.Sleep(readyPollInterval)
	}
}

// connect walks the lifecycle state machine: dial, open channel, declare the
// request queue, begin consuming. Any failure is surfaced to Start.
func (c *Coordinator) connect() {
	fail := func(err error) {
		c.log.Errorf("coordinator connect failed in state %s: %v", c.State(), err)
		c.startErr.Store(&err)
	}

	c.setState(Connecting)
	conn, err := c.transport.Dial()
	if err != nil {
		fail(fmt.Errorf("dial transport: %w", err))
		return
	}
	c.conn = conn

	c.setState(ChannelOpening)
	ch, err := conn.OpenChannel()
	if err != nil {
		fail(fmt.Errorf("open channel: %w", err))
		return
	}
	c.ch = ch

	c.setState(QueueDeclaring)
	// Drop any stale queue from a previous run before declaring fresh.
	if err := ch.DeleteQueue(c.queue); err != nil {
		fail(fmt.Errorf("delete stale queue: %w", err))
		return
	}
	if _, err := ch.DeclareQueue(c.queue, true, false); err != nil {
		fail(fmt.Errorf("declare request queue: %w", err))
		return
	}
	if err := ch.Consume(c.queue, c.onRequest); err != nil {
		fail(fmt.Errorf("consume request queue: %w", err))
		return
	}

	c.setState(Ready)
}

// onRequest handles one consumed request: decode, validate the participant,
// store into the cohort (overwriting any earlier unconsumed arrival from the
// same participant), and release once the roster is complete.
//
// Protocol violations are rejected and acknowledged: a malformed envelope or
// unknown participant is logged and dropped without touching the cohort.
func (c *Coordinator) onRequest(d Delivery) {
	req, err := DecodeRequest(d.Body)
	if err != nil {
		c.log.Errorf("rejecting request: %v", err)
		c.ackQuietly(d.Tag)
		return
	}
	if !c.onRoster(req.Participant) {
		c.log.Errorf("rejecting request: %v: %q", ErrUnknownParticipant, req.Participant)
		c.ackQuietly(d.Tag)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	overwrote := c.cohort.Add(&PendingRequest{
		Participant:   req.Participant,
		Kind:          req.Kind,
		Action:        req.Action,
		ReplyTo:       d.ReplyTo,
		CorrelationID: d.CorrelationID,
		Tag:           d.Tag,
	})
	if overwrote {
		c.log.Warnf("participant %q overwrote its pending request before release", req.Participant)
	}
	c.log.Debugf("pooled %s from %q (%d/%d)", req.Kind, req.Participant, c.cohort.Len(), len(c.names))

	if c.cohort.Complete(len(c.names)) {
		c.release()
	}
}

// release runs exactly one joint computation for the completed cohort and
// fans its result back out. Reset wins unconditionally: if any pending
// request is a reset, every step payload in the cohort is discarded for the
// cycle. Called with c.mu held.
func (c *Coordinator) release() {
	var (
		payload any
		op      string
		err     error
	)
	if c.cohort.HasReset() {
		op = "reset"
		payload, err = c.engine.Reset()
	} else {
		op = "step"
		payload, err = c.engine.Step(c.cohort.JointAction())
	}
	if err != nil {
		// No retry, no partial credit: the cohort is abandoned unanswered
		// before the handler runs, so a handler that returns cannot see the
		// consumed actions replayed on the next arrival.
		c.cohort.Clear()
		c.onFailure(&ComputationError{Op: op, Err: err})
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.cohort.Clear()
		c.onFailure(&ComputationError{Op: op, Err: fmt.Errorf("marshal joint result: %w", err)})
		return
	}

	c.log.Debugf("released cohort via %s, fanning out %d responses", op, c.cohort.Len())

	for _, p := range c.cohort.Pending() {
		if err := c.ch.Publish(p.ReplyTo, p.CorrelationID, "", body); err != nil {
			// Remaining callers stay blocked; the cohort is intentionally
			// not cleared and not retried.
			c.log.Errorf("fan-out publish to %q failed, remaining callers left blocked: %v", p.Participant, err)
			return
		}
		c.ackQuietly(p.Tag)
	}

	// Only after every response is out does the barrier reset to empty.
	c.cohort.Clear()
}

func (c *Coordinator) ackQuietly(tag uint64) {
	if err := c.ch.Ack(tag); err != nil {
		c.log.Warnf("ack %d failed: %v", tag, err)
	}
}

func (c *Coordinator) onRoster(id string) bool {
	for _, name := range c.names {
		if name == id {
			return true
		}
	}
	return false
}

// defaultFailureHandler preserves fail-fast semantics: log the error with a
// full stack trace, tell the operator, and terminate.
func (c *Coordinator) defaultFailureHandler(err error) {
	stack := make([]byte, 64<<10)
	n := runtime.Stack(stack, false)
	c.log.Errorf("%v\n%s", err, stack[:n])
	c.log.Error("joint computation failed; manual intervention required")
	os.Exit(1)
}

// LinkParticipant registers a client handle with the engine under the given
// participant id. Called by NewAgentClient.
func (c *Coordinator) LinkParticipant(id string, handle *AgentClient) {
	c.engine.RegisterParticipant(id, handle)
}

// SharedProperty resolves a name-scoped engine property for one participant.
func (c *Coordinator) SharedProperty(id, key string) (any, error) {
	return c.engine.SharedProperty(id, key)
}

// Render delegates directly to the joint engine.
func (c *Coordinator) Render(mode string) {
	c.engine.Render(mode)
}

// Close shuts the engine and the broker connection down abruptly. In-flight
// cohorts are not drained.
func (c *Coordinator) Close() {
	c.engine.Close()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Warnf("closing coordinator connection: %v", err)
		}
	}
	c.setState(Disconnected)
}
