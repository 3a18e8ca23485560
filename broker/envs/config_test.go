package envs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
num_agents: 2
seed: 7
width: 10
height: 8
sensor_range: 2
puddle_prob: 0.1
max_timesteps: 100
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.NumAgents)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 10, cfg.Width)
	assert.Equal(t, 8, cfg.Height)
	assert.Equal(t, 2, cfg.SensorRange)
	assert.Equal(t, 0.1, cfg.PuddleProb)
	assert.Equal(t, 100, cfg.MaxTimesteps)
}

func TestLoadConfig_RejectsEmptyRoster(t *testing.T) {
	path := writeConfig(t, "num_agents: 0\n")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "num_agents")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRosterNamesAreAgentIndices(t *testing.T) {
	r := newRoster(3)
	assert.Equal(t, []string{"0", "1", "2"}, r.Names())
	assert.True(t, r.knows("2"))
	assert.False(t, r.knows("3"))
}

func TestActionIndexAcceptsWireAndNativeNumbers(t *testing.T) {
	for _, v := range []any{float64(3), int(3), int64(3)} {
		idx, err := actionIndex(v)
		require.NoError(t, err)
		assert.Equal(t, 3, idx)
	}

	_, err := actionIndex("up")
	assert.Error(t, err)
	_, err = actionIndex(nil)
	assert.Error(t, err)
}
