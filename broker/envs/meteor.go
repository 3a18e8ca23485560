package envs

import (
	"fmt"
	"math/rand"

	"github.com/joint-sim/joint-sim/broker"
)

// Board cells for the meteor game.
const (
	cellEmpty     = '-'
	cellMeteor    = '*'
	cellCollision = 'c'
)

// meteorGame holds the raw board for the dodge game: agents live on the
// bottom row, meteors spawn on the top row every few steps and fall one row
// per step.
type meteorGame struct {
	numAgents    int
	interval     int
	size         int
	maxTimesteps int

	grid         [][]byte
	currInterval int
	timesteps    int
}

func newMeteorGame(numAgents, interval, size, maxTimesteps int, rng *rand.Rand) *meteorGame {
	g := &meteorGame{
		numAgents:    numAgents,
		interval:     interval,
		size:         size,
		maxTimesteps: maxTimesteps,
	}
	g.resetBoard(rng)
	return g
}

// resetBoard clears the grid and drops every agent onto a distinct random
// column of the bottom row.
func (g *meteorGame) resetBoard(rng *rand.Rand) {
	g.grid = make([][]byte, g.size)
	for r := range g.grid {
		row := make([]byte, g.size)
		for c := range row {
			row[c] = cellEmpty
		}
		g.grid[r] = row
	}
	g.timesteps = 0

	for agent := 0; agent < g.numAgents; {
		col := rng.Intn(g.size)
		if g.grid[g.size-1][col] != cellEmpty {
			continue
		}
		g.grid[g.size-1][col] = byte('0' + agent)
		agent++
	}
}

// moveOneStep advances the game: agents shift, meteors fall, a new meteor
// may spawn. Reports whether the game is still alive.
func (g *meteorGame) moveOneStep(actions []int, rng *rand.Rand) bool {
	g.moveAgents(actions)

	if !g.dropMeteors() {
		return false
	}

	g.currInterval++
	if g.currInterval == g.interval {
		g.currInterval = 0
		g.spawnMeteor(rng)
	}

	if g.timesteps == g.maxTimesteps {
		return false
	}
	g.timesteps++
	return true
}

// moveAgents shifts each agent by -1/0/+1 on the bottom row, clamped to the
// board; a move into an occupied cell is dropped.
func (g *meteorGame) moveAgents(actions []int) {
	last := g.grid[g.size-1]
	for agent := 0; agent < g.numAgents; agent++ {
		cur := g.findCell(last, byte('0'+agent))
		if cur < 0 {
			continue
		}
		next := cur + actions[agent]
		if next < 0 {
			next = 0
		}
		if next > g.size-1 {
			next = g.size - 1
		}
		if last[next] != cellEmpty {
			continue
		}
		last[cur] = cellEmpty
		last[next] = byte('0' + agent)
	}
}

// dropMeteors advances every meteor one row. The bottom row keeps its
// agents; a meteor arriving on an occupied column is a collision and ends
// the game. Reports whether the game is still alive.
func (g *meteorGame) dropMeteors() bool {
	last := append([]byte(nil), g.grid[g.size-1]...)
	for i, cell := range last {
		if cell == cellMeteor {
			last[i] = cellEmpty
		}
	}

	// Shift every row down one; a fresh empty row enters at the top.
	g.grid = g.grid[:g.size-1]
	g.grid = append([][]byte{emptyRow(g.size)}, g.grid...)

	arriving := g.findCell(g.grid[g.size-1], cellMeteor)
	if arriving >= 0 {
		if last[arriving] != cellEmpty {
			last[arriving] = cellCollision
			g.grid[g.size-1] = last
			return false
		}
		last[arriving] = cellMeteor
	}
	g.grid[g.size-1] = last
	return true
}

func (g *meteorGame) spawnMeteor(rng *rand.Rand) {
	g.grid[0][rng.Intn(g.size)] = cellMeteor
}

// meteorDists returns, per column, the row distance of the lowest meteor
// from the bottom row; columns without a meteor report the board size.
func (g *meteorGame) meteorDists() []int {
	dists := make([]int, g.size)
	for col := range dists {
		dists[col] = g.size
	}
	for row := 0; row < g.size; row++ {
		for col := 0; col < g.size; col++ {
			if g.grid[row][col] == cellMeteor {
				dists[col] = g.size - 1 - row
			}
		}
	}
	return dists
}

// agentXs returns each agent's column on the bottom row, -1 if the agent
// cell was destroyed.
func (g *meteorGame) agentXs() []int {
	xs := make([]int, g.numAgents)
	for agent := range xs {
		xs[agent] = g.findCell(g.grid[g.size-1], byte('0'+agent))
	}
	return xs
}

func (g *meteorGame) findCell(row []byte, want byte) int {
	for i, cell := range row {
		if cell == want {
			return i
		}
	}
	return -1
}

func (g *meteorGame) printBoard() {
	for _, row := range g.grid {
		fmt.Println(string(row))
	}
	fmt.Println()
}

func emptyRow(n int) []byte {
	row := make([]byte, n)
	for i := range row {
		row[i] = cellEmpty
	}
	return row
}

// Meteor is the dodge-game joint engine. Every participant sees the same
// observation (agent position one-hots plus per-column meteor distances)
// and earns the same reward; a single collision ends the episode for all.
type Meteor struct {
	roster
	game         *meteorGame
	rng          *rand.Rand
	maxTimesteps int
	showBoard    bool

	epReturn float64
	epNum    int
}

// NewMeteor creates a meteor engine from cfg. Panics on a roster that does
// not fit the board. Agent names are single digits, so at most 10 agents.
func NewMeteor(cfg Config) *Meteor {
	if cfg.NumAgents < 1 || cfg.NumAgents > 10 {
		panic("Meteor: num_agents must be in 1..10")
	}
	if cfg.GridSize < 2 || cfg.NumAgents > cfg.GridSize {
		panic("Meteor: grid_size must be >= 2 and hold every agent")
	}
	if cfg.MeteorInterval < 1 {
		panic("Meteor: meteor_interval must be >= 1")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &Meteor{
		roster:       newRoster(cfg.NumAgents),
		game:         newMeteorGame(cfg.NumAgents, cfg.MeteorInterval, cfg.GridSize, cfg.MaxTimesteps, rng),
		rng:          rng,
		maxTimesteps: cfg.MaxTimesteps,
	}
}

// ObservationSize returns the shared observation length: one board-width
// one-hot per agent plus one meteor distance per column.
func (e *Meteor) ObservationSize() int {
	return len(e.names)*e.game.size + e.game.size
}

// Reset restarts the board; every participant receives the same fresh
// observation.
func (e *Meteor) Reset() (broker.JointObservation, error) {
	e.epReturn = 0
	e.epNum++
	e.game.resetBoard(e.rng)

	shared := e.observe()
	obs := make(broker.JointObservation, len(e.names))
	for _, name := range e.names {
		obs[name] = shared
	}
	if e.showBoard {
		e.game.printBoard()
	}
	return obs, nil
}

// Step advances the board one tick. Wire actions 0/1/2 map to moves
// -1/0/+1.
func (e *Meteor) Step(action broker.JointAction) (broker.JointStepResult, error) {
	moves := make([]int, len(e.names))
	for i, name := range e.names {
		idx, err := actionIndex(action[name])
		if err != nil {
			return nil, fmt.Errorf("participant %q: %w", name, err)
		}
		if idx < 0 || idx > 2 {
			return nil, fmt.Errorf("participant %q: action index %d out of range", name, idx)
		}
		moves[i] = idx - 1
	}

	alive := e.game.moveOneStep(moves, e.rng)
	done := !alive
	shared := e.observe()

	rew := 1.0
	// A collision before the timestep cap earns the big penalty; surviving
	// to the cap just ends the episode.
	if done && e.game.timesteps != e.maxTimesteps {
		rew -= float64(e.maxTimesteps) / 10
	}
	e.epReturn += rew

	if e.showBoard {
		e.game.printBoard()
	}

	result := make(broker.JointStepResult, len(e.names))
	for _, name := range e.names {
		result[name] = broker.StepOutcome{
			Observation: shared,
			Reward:      rew,
			Done:        done,
			Info:        map[string]any{},
		}
	}
	return result, nil
}

// observe forms the shared observation: per-agent position one-hots on the
// bottom row followed by per-column meteor distances.
func (e *Meteor) observe() []float64 {
	size := e.game.size
	obs := make([]float64, 0, e.ObservationSize())

	for _, x := range e.game.agentXs() {
		oneHot := make([]float64, size)
		if x >= 0 {
			oneHot[x] = 1
		}
		obs = append(obs, oneHot...)
	}
	for _, d := range e.game.meteorDists() {
		obs = append(obs, float64(d))
	}
	return obs
}

// Render prints the board.
func (e *Meteor) Render(string) {
	e.game.printBoard()
}

// Close is a no-op.
func (e *Meteor) Close() {}

// SharedProperty exposes the per-participant space sizes and episode stats.
func (e *Meteor) SharedProperty(id, key string) (any, error) {
	if !e.knows(id) {
		return nil, fmt.Errorf("%w: %q", broker.ErrUnknownParticipant, id)
	}
	switch key {
	case "observation_size":
		return e.ObservationSize(), nil
	case "action_size":
		return 3, nil
	case "episode_return":
		return e.epReturn, nil
	case "episode_number":
		return e.epNum, nil
	}
	return nil, fmt.Errorf("%w: %q", broker.ErrUnknownProperty, key)
}
