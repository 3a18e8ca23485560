package broker

import "errors"

// JointAction maps participant id to that participant's action for one step.
type JointAction map[string]any

// JointObservation maps participant id to its observation after a reset.
type JointObservation map[string]any

// JointStepResult maps participant id to its slice of one joint step. It is
// produced by exactly one engine call per release and never mixes cycles.
type JointStepResult map[string]StepOutcome

// ErrUnknownProperty reports a shared-property key the engine does not
// expose for the given participant.
var ErrUnknownProperty = errors.New("unknown shared property")

// JointEngine is the user-supplied simulation advancing all participants
// together. The Coordinator invokes it synchronously on its event-loop
// context, exactly once per completed cohort; implementations need no
// internal locking against the broker.
type JointEngine interface {
	// Names returns the participant roster, in agent order. The roster is
	// fixed for the lifetime of a run; the cohort barrier releases when
	// exactly this many distinct participants have arrived.
	Names() []string

	// Reset restarts the simulation and returns every participant's initial
	// observation.
	Reset() (JointObservation, error)

	// Step advances one timestep given every participant's action and
	// returns every participant's outcome.
	Step(action JointAction) (JointStepResult, error)

	// Render draws the current state in the given mode.
	Render(mode string)

	// Close releases engine resources. Abrupt: no drain of in-flight work.
	Close()

	// RegisterParticipant links a participant's client handle to the engine
	// for bookkeeping. Called once per client at construction.
	RegisterParticipant(id string, handle *AgentClient)

	// SharedProperty resolves a name-scoped engine property for one
	// participant, such as observation or action space sizes. This is the
	// explicit capability surface behind AgentClient.SharedProperty; unknown
	// keys return ErrUnknownProperty.
	SharedProperty(id, key string) (any, error)
}
