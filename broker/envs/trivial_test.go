package envs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joint-sim/joint-sim/broker"
)

func TestTrivial_ResetCoversRoster(t *testing.T) {
	e := NewTrivial(Config{NumAgents: 3, Seed: 42})

	obs, err := e.Reset()
	require.NoError(t, err)
	require.Len(t, obs, 3)
	for _, name := range e.Names() {
		v, ok := obs[name].(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestTrivial_StepPaysConstantRewardToEveryone(t *testing.T) {
	e := NewTrivial(Config{NumAgents: 2, Seed: 42})
	_, err := e.Reset()
	require.NoError(t, err)

	res, err := e.Step(broker.JointAction{"0": 0, "1": 1})
	require.NoError(t, err)
	require.Len(t, res, 2)

	// the done flag is shared across the roster
	done := res["0"].Done
	for _, name := range e.Names() {
		assert.Equal(t, 0.5, res[name].Observation)
		assert.Equal(t, 1.0, res[name].Reward)
		assert.Equal(t, done, res[name].Done)
	}
}

func TestTrivial_SharedProperty(t *testing.T) {
	e := NewTrivial(Config{NumAgents: 1, Seed: 1})

	size, err := e.SharedProperty("0", "action_size")
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	size, err = e.SharedProperty("0", "observation_size")
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	_, err = e.SharedProperty("9", "action_size")
	assert.ErrorIs(t, err, broker.ErrUnknownParticipant)
	_, err = e.SharedProperty("0", "no_such_key")
	assert.ErrorIs(t, err, broker.ErrUnknownProperty)
}

func TestNewTrivial_PanicsOnEmptyRoster(t *testing.T) {
	assert.Panics(t, func() { NewTrivial(Config{NumAgents: 0}) })
}
