package envs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joint-sim/joint-sim/broker"
)

func meteorConfig() Config {
	return Config{
		NumAgents:      2,
		Seed:           42,
		GridSize:       6,
		MeteorInterval: 2,
		MaxTimesteps:   50,
	}
}

func TestNewMeteor_PanicsOnBadConfig(t *testing.T) {
	ok := meteorConfig()

	bad := ok
	bad.NumAgents = 0
	assert.Panics(t, func() { NewMeteor(bad) })

	bad = ok
	bad.NumAgents = 11
	assert.Panics(t, func() { NewMeteor(bad) })

	bad = ok
	bad.GridSize = 1
	assert.Panics(t, func() { NewMeteor(bad) })

	bad = ok
	bad.MeteorInterval = 0
	assert.Panics(t, func() { NewMeteor(bad) })
}

func TestMeteor_ResetSharesOneObservation(t *testing.T) {
	e := NewMeteor(meteorConfig())

	obs, err := e.Reset()
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, obs["0"], obs["1"])

	vec, ok := obs["0"].([]float64)
	require.True(t, ok)
	require.Len(t, vec, e.ObservationSize())

	// agents stand on distinct bottom-row columns
	xs := e.game.agentXs()
	require.Len(t, xs, 2)
	assert.GreaterOrEqual(t, xs[0], 0)
	assert.GreaterOrEqual(t, xs[1], 0)
	assert.NotEqual(t, xs[0], xs[1])

	// no meteors yet, so every column reports the full board size
	for _, d := range e.game.meteorDists() {
		assert.Equal(t, e.game.size, d)
	}
}

func TestMeteor_ObservationSize(t *testing.T) {
	e := NewMeteor(meteorConfig())
	assert.Equal(t, 2*6+6, e.ObservationSize())

	size, err := e.SharedProperty("0", "observation_size")
	require.NoError(t, err)
	assert.Equal(t, e.ObservationSize(), size)

	actions, err := e.SharedProperty("1", "action_size")
	require.NoError(t, err)
	assert.Equal(t, 3, actions)
}

func TestMeteor_SurvivingStepPaysOne(t *testing.T) {
	e := NewMeteor(meteorConfig())
	_, err := e.Reset()
	require.NoError(t, err)

	// wire action 1 is "stay"
	res, err := e.Step(broker.JointAction{"0": 1, "1": 1})
	require.NoError(t, err)
	for _, name := range e.Names() {
		assert.Equal(t, 1.0, res[name].Reward)
		assert.False(t, res[name].Done)
	}

	ret, err := e.SharedProperty("0", "episode_return")
	require.NoError(t, err)
	assert.Equal(t, 1.0, ret)
}

func TestMeteor_MeteorsSpawnOnTheInterval(t *testing.T) {
	cfg := meteorConfig()
	cfg.MeteorInterval = 1
	e := NewMeteor(cfg)
	_, err := e.Reset()
	require.NoError(t, err)

	_, err = e.Step(broker.JointAction{"0": 1, "1": 1})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, e.game.findCell(e.game.grid[0], cellMeteor), 0)
}

func TestMeteor_CollisionEndsTheEpisodeWithPenalty(t *testing.T) {
	e := NewMeteor(meteorConfig())
	_, err := e.Reset()
	require.NoError(t, err)

	// drop a meteor one row above agent 0; the next tick lands it
	col := e.game.agentXs()[0]
	e.game.grid[e.game.size-2][col] = cellMeteor

	res, err := e.Step(broker.JointAction{"0": 1, "1": 1})
	require.NoError(t, err)
	for _, name := range e.Names() {
		assert.True(t, res[name].Done)
		assert.Equal(t, 1.0-float64(e.maxTimesteps)/10, res[name].Reward)
	}
	assert.Equal(t, byte(cellCollision), e.game.grid[e.game.size-1][col])
}

func TestMeteor_ResetRestartsEpisodeBookkeeping(t *testing.T) {
	e := NewMeteor(meteorConfig())
	_, err := e.Reset()
	require.NoError(t, err)
	_, err = e.Step(broker.JointAction{"0": 1, "1": 1})
	require.NoError(t, err)

	_, err = e.Reset()
	require.NoError(t, err)

	ret, err := e.SharedProperty("0", "episode_return")
	require.NoError(t, err)
	assert.Equal(t, 0.0, ret)

	num, err := e.SharedProperty("0", "episode_number")
	require.NoError(t, err)
	assert.Equal(t, 2, num)
}

func TestMeteor_AgentsClampToTheBoardAndSkipOccupiedCells(t *testing.T) {
	cfg := meteorConfig()
	cfg.NumAgents = 2
	cfg.GridSize = 2
	e := NewMeteor(cfg)
	_, err := e.Reset()
	require.NoError(t, err)

	// a full bottom row cannot move: every target is occupied or off-board
	before := append([]byte(nil), e.game.grid[e.game.size-1]...)
	_, err = e.Step(broker.JointAction{"0": 0, "1": 2})
	require.NoError(t, err)
	assert.Equal(t, before, e.game.grid[e.game.size-1])
}

func TestMeteor_RejectsOutOfRangeActions(t *testing.T) {
	e := NewMeteor(meteorConfig())
	_, err := e.Reset()
	require.NoError(t, err)

	_, err = e.Step(broker.JointAction{"0": 3, "1": 1})
	assert.Error(t, err)
}
