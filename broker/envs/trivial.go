package envs

import (
	"fmt"
	"math/rand"

	"github.com/joint-sim/joint-sim/broker"
)

// trivialDoneProb is the per-step probability that the episode ends.
const trivialDoneProb = 0.005

// Trivial is the smoke-test joint engine: random scalar observations, a
// constant reward, and a small random chance of episode end shared by every
// participant.
type Trivial struct {
	roster
	rng *rand.Rand
}

// NewTrivial creates the trivial engine. Panics if cfg.NumAgents < 1.
func NewTrivial(cfg Config) *Trivial {
	if cfg.NumAgents < 1 {
		panic("Trivial: num_agents must be >= 1")
	}
	return &Trivial{
		roster: newRoster(cfg.NumAgents),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Reset returns a fresh random observation per participant.
func (e *Trivial) Reset() (broker.JointObservation, error) {
	obs := make(broker.JointObservation, len(e.names))
	for _, name := range e.names {
		obs[name] = e.rng.Float64()
	}
	return obs, nil
}

// Step ignores the actions and pays everyone a constant reward; the shared
// done flag flips with a small probability.
func (e *Trivial) Step(broker.JointAction) (broker.JointStepResult, error) {
	done := e.rng.Float64() < trivialDoneProb
	result := make(broker.JointStepResult, len(e.names))
	for _, name := range e.names {
		result[name] = broker.StepOutcome{
			Observation: 0.5,
			Reward:      1,
			Done:        done,
			Info:        map[string]any{},
		}
	}
	return result, nil
}

// Render is a no-op for the trivial engine.
func (e *Trivial) Render(string) {}

// Close is a no-op.
func (e *Trivial) Close() {}

// SharedProperty exposes the per-participant space sizes.
func (e *Trivial) SharedProperty(id, key string) (any, error) {
	if !e.knows(id) {
		return nil, fmt.Errorf("%w: %q", broker.ErrUnknownParticipant, id)
	}
	switch key {
	case "observation_size":
		return 1, nil
	case "action_size":
		return 2, nil
	}
	return nil, fmt.Errorf("%w: %q", broker.ErrUnknownProperty, key)
}
