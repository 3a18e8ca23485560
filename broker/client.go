package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ClientOption customizes an AgentClient.
type ClientOption func(*AgentClient)

// WithClientLogger directs client logging to the given logger.
func WithClientLogger(logger *logrus.Logger) ClientOption {
	return func(a *AgentClient) { a.log = logger }
}

// WithClientRequestQueue overrides the request queue the client publishes to.
// Must match the coordinator's queue.
func WithClientRequestQueue(name string) ClientOption {
	return func(a *AgentClient) { a.queue = name }
}

// AgentClient is the per-participant facade over the broker. It fosters the
// illusion of a private single-agent environment: Reset and Step publish
// requests on the participant's behalf, block for the correlated joint
// response, and expose only this participant's slice of it.
//
// An AgentClient is not reentrant: it tracks a single outstanding
// correlation token, so a second call while one is blocked corrupts the
// slot. Callers must serialize their own requests.
type AgentClient struct {
	name        string
	coordinator *Coordinator
	transport   Transport
	queue       string
	log         *logrus.Logger

	// Lazily established on the first query.
	conn       Conn
	ch         Channel
	replyQueue string
	connected  bool

	// Single outstanding-correlation slot, written by the caller and read by
	// the reply-queue handler on the connection's dispatch goroutine.
	slotMu sync.Mutex
	corrID string
	respCh chan json.RawMessage
}

// NewAgentClient creates the facade for one participant and links its handle
// to the joint engine through the coordinator. The transport connection is
// not established until the first request.
func NewAgentClient(name string, coordinator *Coordinator, transport Transport, opts ...ClientOption) *AgentClient {
	if coordinator == nil {
		panic("AgentClient: coordinator must not be nil")
	}
	if transport == nil {
		panic("AgentClient: transport must not be nil")
	}
	a := &AgentClient{
		name:        name,
		coordinator: coordinator,
		transport:   transport,
		queue:       coordinator.queue,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	coordinator.LinkParticipant(name, a)
	a.log.Infof("participant %q client set up", name)
	return a
}

// Name returns the participant id this client speaks for.
func (a *AgentClient) Name() string {
	return a.name
}

// Reset publishes a reset request and blocks until the correlated response
// arrives, returning this participant's initial observation.
func (a *AgentClient) Reset() (any, error) {
	return a.ResetContext(context.Background())
}

// ResetContext is Reset with caller-supplied cancellation. The broker itself
// imposes no timeout; a participant that never completes the cohort stalls
// the barrier, and this context is the embedding application's opt-out.
func (a *AgentClient) ResetContext(ctx context.Context) (any, error) {
	body, err := EncodeRequest(a.name, KindReset, nil)
	if err != nil {
		return nil, err
	}
	raw, err := a.query(ctx, body)
	if err != nil {
		return nil, err
	}
	var obs any
	if err := json.Unmarshal(raw, &obs); err != nil {
		return nil, fmt.Errorf("decode reset observation: %w", err)
	}
	return obs, nil
}

// Step publishes a step request carrying one action and blocks for this
// participant's (observation, reward, done, info) outcome.
//
// If another participant requested a reset in the same cycle, the joint
// computation was a reset and the step payload was discarded; the returned
// outcome then has FromReset set and carries only the fresh observation.
func (a *AgentClient) Step(action any) (StepOutcome, error) {
	return a.StepContext(context.Background(), action)
}

// StepContext is Step with caller-supplied cancellation.
func (a *AgentClient) StepContext(ctx context.Context, action any) (StepOutcome, error) {
	body, err := EncodeRequest(a.name, KindStep, action)
	if err != nil {
		return StepOutcome{}, err
	}
	raw, err := a.query(ctx, body)
	if err != nil {
		return StepOutcome{}, err
	}

	var outcome StepOutcome
	if err := json.Unmarshal(raw, &outcome); err == nil {
		return outcome, nil
	}
	// Not a step 4-tuple: a concurrent reset won the cycle and the slice is
	// a bare observation.
	var obs any
	if err := json.Unmarshal(raw, &obs); err != nil {
		return StepOutcome{}, fmt.Errorf("decode step response: %w", err)
	}
	return StepOutcome{Observation: obs, FromReset: true}, nil
}

// SharedProperty resolves a name-scoped joint-engine property for this
// participant, such as "action_size". This replaces attribute-fallback
// delegation with an explicit capability lookup.
func (a *AgentClient) SharedProperty(key string) (any, error) {
	return a.coordinator.SharedProperty(a.name, key)
}

// Render delegates to the coordinator's engine.
func (a *AgentClient) Render(mode string) {
	a.coordinator.Render(mode)
}

// Close shuts down the coordinator (and with it the joint engine) and this
// client's own connection.
func (a *AgentClient) Close() {
	a.coordinator.Close()
	if a.connected {
		if err := a.conn.Close(); err != nil {
			a.log.Warnf("closing client connection: %v", err)
		}
		a.connected = false
	}
	a.log.Infof("participant %q disconnected from the coordinator", a.name)
}

// query publishes one request and blocks until the reply-queue listener has
// recorded a response matching its correlation id, returning this
// participant's slice of the joint response. The lazy connection fields are
// covered by the client's non-reentrancy contract: only the single calling
// goroutine touches them, never the dispatch handler, so slotMu guards just
// the correlation slot the handler shares.
func (a *AgentClient) query(ctx context.Context, body []byte) (json.RawMessage, error) {
	if !a.connected {
		if err := a.initChannel(); err != nil {
			return nil, err
		}
		a.connected = true
	}

	respCh := make(chan json.RawMessage, 1)
	corrID := uuid.NewString()
	a.slotMu.Lock()
	a.corrID = corrID
	a.respCh = respCh
	a.slotMu.Unlock()

	if err := a.ch.Publish(a.queue, corrID, a.replyQueue, body); err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}

	// Block-forever by default; the response future makes cancellation an
	// embedding-level choice without changing the core contract.
	select {
	case raw := <-respCh:
		return ExtractSlice(raw, a.name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// initChannel lazily dials the transport, opens a channel, and declares this
// client's private exclusive reply queue with a listener that accepts only
// the outstanding correlation id.
func (a *AgentClient) initChannel() error {
	conn, err := a.transport.Dial()
	if err != nil {
		return fmt.Errorf("dial transport: %w", err)
	}
	ch, err := conn.OpenChannel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	replyQueue, err := ch.DeclareQueue("", false, true)
	if err != nil {
		conn.Close()
		return fmt.Errorf("declare reply queue: %w", err)
	}
	if err := ch.Consume(replyQueue, a.onResponse); err != nil {
		conn.Close()
		return fmt.Errorf("consume reply queue: %w", err)
	}

	a.conn = conn
	a.ch = ch
	a.replyQueue = replyQueue
	a.log.Infof("participant %q connected, reply queue %q", a.name, replyQueue)
	return nil
}

// onResponse records a response only if its correlation id equals that of
// the most recently issued outstanding request; anything else is stale and
// dropped.
func (a *AgentClient) onResponse(d Delivery) {
	a.slotMu.Lock()
	defer a.slotMu.Unlock()
	if d.CorrelationID != a.corrID || a.respCh == nil {
		a.log.Debugf("participant %q dropping response with stale correlation id", a.name)
		return
	}
	a.respCh <- d.Body
	a.respCh = nil
}
