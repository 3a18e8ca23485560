package envs

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/joint-sim/joint-sim/broker"
)

// Cell occupants. Agent cells hold the agent's name instead.
const (
	occEmpty     = "empty"
	occGoal      = "goal"
	occPuddle    = "puddle"
	occCollision = "collision"
)

// cpos is a (row, col) grid coordinate or movement delta.
type cpos struct {
	r, c int
}

// gridNavActions maps discrete action indices to movement deltas:
// up, down, left, right, stay.
var gridNavActions = []cpos{{-1, 0}, {1, 0}, {0, -1}, {0, 1}, {0, 0}}

// collisionPenalty is the reward for an agent whose move ended the episode
// in a collision.
const collisionPenalty = -30

// GridNav is a cooperative grid-navigation joint engine: agents share an
// H×W grid with random puddles and a single goal cell, observe a sensor
// window around themselves plus their offset to the goal, and must all reach
// the goal without colliding with puddles or each other.
type GridNav struct {
	roster
	width        int
	height       int
	sensorRange  int
	maxTimesteps int
	puddleProb   float64
	rng          *rand.Rand

	grid        map[cpos]string
	agents      map[string]cpos
	goal        cpos
	timestep    int
	done        bool
	won         bool
	lastActions map[string]cpos
}

// NewGridNav creates a grid-navigation engine from cfg. Panics on
// non-positive dimensions or roster.
func NewGridNav(cfg Config) *GridNav {
	if cfg.NumAgents < 1 {
		panic("GridNav: num_agents must be >= 1")
	}
	if cfg.Width < 2 || cfg.Height < 2 {
		panic("GridNav: grid must be at least 2x2")
	}
	if cfg.SensorRange < 1 {
		panic("GridNav: sensor_range must be >= 1")
	}
	if cfg.NumAgents+1 > cfg.Width*cfg.Height {
		panic("GridNav: grid too small for roster plus goal")
	}
	return &GridNav{
		roster:       newRoster(cfg.NumAgents),
		width:        cfg.Width,
		height:       cfg.Height,
		sensorRange:  cfg.SensorRange,
		maxTimesteps: cfg.MaxTimesteps,
		puddleProb:   cfg.PuddleProb,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
	}
}

// ObservationSize returns the length of each participant's observation
// vector: a 4-way one-hot per sensor-window cell plus the 2 goal offsets.
func (e *GridNav) ObservationSize() int {
	window := (2*e.sensorRange + 1) * (2*e.sensorRange + 1)
	return 4*(window-1) + 2
}

// Reset rebuilds the grid: puddles sprinkled by puddle_prob, then the goal
// and every agent dropped onto distinct empty cells.
func (e *GridNav) Reset() (broker.JointObservation, error) {
	e.grid = make(map[cpos]string, e.width*e.height)
	e.agents = make(map[string]cpos, len(e.names))
	e.timestep = 0
	e.done = false
	e.won = false
	e.lastActions = nil

	for r := 0; r < e.height; r++ {
		for c := 0; c < e.width; c++ {
			p := cpos{r, c}
			if e.rng.Float64() < e.puddleProb {
				e.grid[p] = occPuddle
			} else {
				e.grid[p] = occEmpty
			}
		}
	}

	e.goal = e.placeOnEmpty(occGoal)
	for _, name := range e.names {
		e.agents[name] = e.placeOnEmpty(name)
	}

	obs := make(broker.JointObservation, len(e.names))
	for _, name := range e.names {
		obs[name] = e.observe(name)
	}
	return obs, nil
}

func (e *GridNav) placeOnEmpty(occupant string) cpos {
	for {
		p := cpos{e.rng.Intn(e.height), e.rng.Intn(e.width)}
		if e.grid[p] == occEmpty {
			e.grid[p] = occupant
			return p
		}
	}
}

// Step moves every agent by its chosen action in roster order, then forms
// observations and rewards. Any collision ends the episode; the episode is
// won when every agent stands on the goal.
func (e *GridNav) Step(action broker.JointAction) (broker.JointStepResult, error) {
	e.lastActions = make(map[string]cpos, len(e.names))
	for _, name := range e.names {
		idx, err := actionIndex(action[name])
		if err != nil {
			return nil, fmt.Errorf("participant %q: %w", name, err)
		}
		if idx < 0 || idx >= len(gridNavActions) {
			return nil, fmt.Errorf("participant %q: action index %d out of range", name, idx)
		}
		delta := gridNavActions[idx]
		e.lastActions[name] = delta
		if e.moveAgent(name, delta) {
			e.done = true
		}
	}

	e.won = true
	for _, p := range e.agents {
		if p != e.goal {
			e.won = false
			break
		}
	}
	e.done = e.done || e.won

	if e.timestep >= e.maxTimesteps {
		e.done = true
	}
	e.timestep++

	result := make(broker.JointStepResult, len(e.names))
	for _, name := range e.names {
		result[name] = broker.StepOutcome{
			Observation: e.observe(name),
			Reward:      e.reward(name),
			Done:        e.done,
			Info:        map[string]any{},
		}
	}
	return result, nil
}

// moveAgent applies one movement delta and reports whether it collided.
// Agents already sitting on a collision cell or the goal no longer move.
func (e *GridNav) moveAgent(name string, delta cpos) bool {
	cur := e.agents[name]
	next := cpos{cur.r + delta.r, cur.c + delta.c}

	if next.r < 0 || next.r >= e.height || next.c < 0 || next.c >= e.width {
		return false
	}
	if e.grid[cur] == occCollision || e.grid[cur] == occGoal {
		return false
	}

	occupant := e.grid[next]
	collided := false
	if occupant != occEmpty && occupant != occGoal && occupant != name {
		// Ran into a puddle or another agent: both cells become wreckage.
		e.grid[next] = occCollision
		e.grid[cur] = occCollision
		collided = true
	} else if occupant != occGoal && occupant != name {
		e.grid[next] = name
	}
	if e.grid[cur] != occCollision && occupant != name {
		e.grid[cur] = occEmpty
		e.agents[name] = next
	}
	return collided
}

// observe forms one agent's observation: a 4-way one-hot
// (empty, agent, puddle, goal) per cell of the sensor window, zeros for
// out-of-bounds cells, then the (row, col) offset to the goal.
func (e *GridNav) observe(name string) []float64 {
	ap := e.agents[name]
	obs := make([]float64, 0, e.ObservationSize())

	for r := -e.sensorRange; r <= e.sensorRange; r++ {
		for c := -e.sensorRange; c <= e.sensorRange; c++ {
			if r == 0 && c == 0 {
				continue
			}
			p := cpos{ap.r + r, ap.c + c}
			if p.r < 0 || p.r >= e.height || p.c < 0 || p.c >= e.width {
				obs = append(obs, 0, 0, 0, 0)
				continue
			}
			switch e.grid[p] {
			case occEmpty:
				obs = append(obs, 1, 0, 0, 0)
			case occPuddle:
				obs = append(obs, 0, 0, 1, 0)
			case occGoal:
				obs = append(obs, 0, 0, 0, 1)
			default: // another agent, or collision wreckage
				obs = append(obs, 0, 1, 0, 0)
			}
		}
	}

	obs = append(obs, float64(e.goal.r-ap.r), float64(e.goal.c-ap.c))
	return obs
}

// reward scores one agent for the step just taken.
func (e *GridNav) reward(name string) float64 {
	ap := e.agents[name]

	// All agents home: bonus proportional to the time saved.
	if e.won {
		return float64(2 * (e.maxTimesteps - e.timestep))
	}
	// Already on the goal, waiting for the others.
	if ap == e.goal {
		return 1
	}
	// This agent's collision ended the episode.
	if e.done && e.grid[ap] == occCollision {
		return collisionPenalty
	}
	// Sitting still earns nothing.
	if e.lastActions[name] == (cpos{0, 0}) {
		return 0
	}

	dr := float64(e.goal.r - ap.r)
	dc := float64(e.goal.c - ap.c)
	return math.Exp(-math.Sqrt(dr*dr + dc*dc))
}

// Render prints the board row by row.
func (e *GridNav) Render(string) {
	for r := 0; r < e.height; r++ {
		row := make([]string, e.width)
		for c := 0; c < e.width; c++ {
			row[c] = e.grid[cpos{r, c}]
		}
		fmt.Println(strings.Join(row, " "))
	}
	fmt.Println()
}

// Close is a no-op.
func (e *GridNav) Close() {}

// SharedProperty exposes the per-participant space sizes.
func (e *GridNav) SharedProperty(id, key string) (any, error) {
	if !e.knows(id) {
		return nil, fmt.Errorf("%w: %q", broker.ErrUnknownParticipant, id)
	}
	switch key {
	case "observation_size":
		return e.ObservationSize(), nil
	case "action_size":
		return len(gridNavActions), nil
	}
	return nil, fmt.Errorf("%w: %q", broker.ErrUnknownProperty, key)
}
