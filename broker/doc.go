// Package broker implements a barrier-synchronizing request broker for joint
// simulations: N independently driven participants each interact with what
// looks like a private environment, while a single JointEngine actually
// advances all of them together, once per cycle.
//
// # Reading Guide
//
// Start with these three files to understand the core:
//   - envelope.go: the wire format for participant requests and joint responses
//   - cohort.go: the repeatedly-resetting barrier over the participant roster
//   - coordinator.go: connection lifecycle, dispatch precedence, and fan-out
//
// # Architecture
//
// The broker package defines the contracts; implementations live in
// sub-packages:
//   - broker/memq/: in-process reference transport for tests and demos
//   - broker/natsmq/: transport adapter over a NATS server
//   - broker/envs/: demo joint engines (trivial, gridnav, meteor)
//   - broker/experiment/: experiment directory and file logger bookkeeping
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - Transport / Conn / Channel: named queues, publish/consume, correlation
//     and reply metadata. The core never implements a broker itself.
//   - JointEngine: the user-supplied simulation advancing every participant
//     at once (Reset, Step, Render, Close, shared-property access).
//
// Control flow: an AgentClient publishes a request carrying its correlation
// id and private reply queue; the Coordinator pools requests per participant
// until exactly one request from every registered participant has arrived,
// invokes the JointEngine exactly once (a reset anywhere in the cohort wins
// over steps), then publishes one response per participant to its reply
// queue, echoing the stored correlation id.
package broker
