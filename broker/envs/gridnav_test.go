package envs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joint-sim/joint-sim/broker"
)

func gridNavConfig() Config {
	return Config{
		NumAgents:    2,
		Seed:         42,
		Width:        6,
		Height:       5,
		SensorRange:  2,
		PuddleProb:   0,
		MaxTimesteps: 50,
	}
}

func TestNewGridNav_PanicsOnBadConfig(t *testing.T) {
	ok := gridNavConfig()

	bad := ok
	bad.NumAgents = 0
	assert.Panics(t, func() { NewGridNav(bad) })

	bad = ok
	bad.Width = 1
	assert.Panics(t, func() { NewGridNav(bad) })

	bad = ok
	bad.SensorRange = 0
	assert.Panics(t, func() { NewGridNav(bad) })

	bad = ok
	bad.Width, bad.Height, bad.NumAgents = 2, 2, 4
	assert.Panics(t, func() { NewGridNav(bad) })
}

func TestGridNav_ObservationSize(t *testing.T) {
	e := NewGridNav(gridNavConfig())
	// 5x5 sensor window minus the agent's own cell, 4 channels per cell,
	// plus the 2 goal offsets
	assert.Equal(t, 4*24+2, e.ObservationSize())

	size, err := e.SharedProperty("0", "observation_size")
	require.NoError(t, err)
	assert.Equal(t, e.ObservationSize(), size)

	actions, err := e.SharedProperty("0", "action_size")
	require.NoError(t, err)
	assert.Equal(t, 5, actions)
}

func TestGridNav_ResetPlacesRosterAndGoalOnDistinctCells(t *testing.T) {
	e := NewGridNav(gridNavConfig())

	obs, err := e.Reset()
	require.NoError(t, err)
	require.Len(t, obs, 2)
	for _, name := range e.Names() {
		vec, ok := obs[name].([]float64)
		require.True(t, ok)
		require.Len(t, vec, e.ObservationSize())

		// the last two entries are the offsets to the goal
		ap := e.agents[name]
		assert.Equal(t, float64(e.goal.r-ap.r), vec[len(vec)-2])
		assert.Equal(t, float64(e.goal.c-ap.c), vec[len(vec)-1])
	}

	assert.NotEqual(t, e.agents["0"], e.agents["1"])
	assert.NotEqual(t, e.goal, e.agents["0"])
	assert.NotEqual(t, e.goal, e.agents["1"])
	assert.Equal(t, occGoal, e.grid[e.goal])
}

func TestGridNav_StayEarnsNothing(t *testing.T) {
	e := NewGridNav(gridNavConfig())
	_, err := e.Reset()
	require.NoError(t, err)

	res, err := e.Step(broker.JointAction{"0": 4, "1": 4})
	require.NoError(t, err)
	for _, name := range e.Names() {
		assert.Zero(t, res[name].Reward)
		assert.False(t, res[name].Done)
	}
}

func TestGridNav_MovingTowardTheGoalEarnsShapedReward(t *testing.T) {
	cfg := gridNavConfig()
	cfg.NumAgents = 1
	e := NewGridNav(cfg)
	_, err := e.Reset()
	require.NoError(t, err)

	// park the agent away from the goal so a non-stay move cannot win
	e.grid[e.agents["0"]] = occEmpty
	far := farthestEmptyCell(e)
	e.grid[far] = "0"
	e.agents["0"] = far

	res, err := e.Step(broker.JointAction{"0": pickInBoundsMove(e, far)})
	require.NoError(t, err)
	out := res["0"]
	assert.Greater(t, out.Reward, 0.0)
	assert.LessOrEqual(t, out.Reward, 1.0)
	assert.False(t, out.Done)
}

func TestGridNav_AllAgentsHomeWinsTheEpisode(t *testing.T) {
	cfg := gridNavConfig()
	cfg.NumAgents = 1
	e := NewGridNav(cfg)
	_, err := e.Reset()
	require.NoError(t, err)

	// stand the agent next to the goal and walk on
	e.grid[e.agents["0"]] = occEmpty
	var start cpos
	var action int
	if e.goal.c > 0 {
		start = cpos{e.goal.r, e.goal.c - 1}
		action = 3 // right
	} else {
		start = cpos{e.goal.r, e.goal.c + 1}
		action = 2 // left
	}
	e.grid[start] = "0"
	e.agents["0"] = start

	res, err := e.Step(broker.JointAction{"0": action})
	require.NoError(t, err)
	out := res["0"]
	assert.True(t, out.Done)
	assert.Equal(t, float64(2*(cfg.MaxTimesteps-1)), out.Reward)
	assert.Equal(t, e.goal, e.agents["0"])
}

func TestGridNav_AgentCollisionEndsTheEpisodeWithPenalty(t *testing.T) {
	e := NewGridNav(gridNavConfig())
	_, err := e.Reset()
	require.NoError(t, err)

	// rebuild a known layout: both agents adjacent, goal in a far corner
	e.grid[e.agents["0"]] = occEmpty
	e.grid[e.agents["1"]] = occEmpty
	e.grid[e.goal] = occEmpty
	e.goal = cpos{e.height - 1, e.width - 1}
	e.grid[e.goal] = occGoal
	e.agents["0"] = cpos{0, 0}
	e.agents["1"] = cpos{0, 1}
	e.grid[cpos{0, 0}] = "0"
	e.grid[cpos{0, 1}] = "1"

	// agent 0 walks right into agent 1
	res, err := e.Step(broker.JointAction{"0": 3, "1": 4})
	require.NoError(t, err)

	assert.True(t, res["0"].Done)
	assert.True(t, res["1"].Done)
	assert.Equal(t, float64(collisionPenalty), res["0"].Reward)
	assert.Equal(t, occCollision, e.grid[cpos{0, 0}])
	assert.Equal(t, occCollision, e.grid[cpos{0, 1}])
}

func TestGridNav_TimestepCapEndsTheEpisode(t *testing.T) {
	cfg := gridNavConfig()
	cfg.NumAgents = 1
	cfg.MaxTimesteps = 2
	e := NewGridNav(cfg)
	_, err := e.Reset()
	require.NoError(t, err)

	stay := broker.JointAction{"0": 4}
	for i := 0; i < 2; i++ {
		res, err := e.Step(stay)
		require.NoError(t, err)
		assert.False(t, res["0"].Done, "episode ended on step %d", i)
	}
	res, err := e.Step(stay)
	require.NoError(t, err)
	assert.True(t, res["0"].Done)
}

func TestGridNav_RejectsOutOfRangeActions(t *testing.T) {
	e := NewGridNav(gridNavConfig())
	_, err := e.Reset()
	require.NoError(t, err)

	_, err = e.Step(broker.JointAction{"0": 9, "1": 4})
	assert.Error(t, err)
	_, err = e.Step(broker.JointAction{"0": "up", "1": 4})
	assert.Error(t, err)
}

// farthestEmptyCell returns the empty cell with the largest Chebyshev
// distance from the goal, so a single move cannot land on it.
func farthestEmptyCell(e *GridNav) cpos {
	best := cpos{-1, -1}
	bestDist := -1
	for r := 0; r < e.height; r++ {
		for c := 0; c < e.width; c++ {
			p := cpos{r, c}
			if e.grid[p] != occEmpty {
				continue
			}
			dr, dc := abs(e.goal.r-r), abs(e.goal.c-c)
			d := dr
			if dc > d {
				d = dc
			}
			if d > bestDist {
				best, bestDist = p, d
			}
		}
	}
	return best
}

// pickInBoundsMove chooses a non-stay action from p that stays on the board
// and shrinks the distance to the goal on one axis.
func pickInBoundsMove(e *GridNav, p cpos) int {
	if e.goal.r < p.r {
		return 0 // up
	}
	if e.goal.r > p.r {
		return 1 // down
	}
	if e.goal.c < p.c {
		return 2 // left
	}
	return 3 // right
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
