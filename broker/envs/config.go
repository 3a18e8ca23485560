// Package envs ships demo joint engines for the broker: a trivial smoke-test
// simulation, a cooperative grid-navigation task, and a meteor-dodging game.
// Each engine advances every participant together and is driven through the
// broker's cohort barrier, never called directly by agents.
package envs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joint-sim/joint-sim/broker"
)

// Config groups the yaml-configurable parameters of the demo engines. Each
// engine validates the subset it needs.
type Config struct {
	NumAgents int   `yaml:"num_agents"`
	Seed      int64 `yaml:"seed"`

	// GridNav
	Width        int     `yaml:"width,omitempty"`
	Height       int     `yaml:"height,omitempty"`
	SensorRange  int     `yaml:"sensor_range,omitempty"`
	PuddleProb   float64 `yaml:"puddle_prob,omitempty"`
	MaxTimesteps int     `yaml:"max_timesteps,omitempty"`

	// Meteor
	GridSize       int `yaml:"grid_size,omitempty"`
	MeteorInterval int `yaml:"meteor_interval,omitempty"`
}

// LoadConfig reads an engine config from a yaml file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read env config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config %s: %w", path, err)
	}
	if cfg.NumAgents < 1 {
		return Config{}, fmt.Errorf("env config %s: num_agents must be >= 1, got %d", path, cfg.NumAgents)
	}
	return cfg, nil
}

// roster holds the fixed participant name list ("0", "1", ...) and the
// client handles registered through the coordinator.
type roster struct {
	names   []string
	handles map[string]*broker.AgentClient
}

func newRoster(n int) roster {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%d", i)
	}
	return roster{names: names, handles: make(map[string]*broker.AgentClient)}
}

// Names returns the participant roster in agent order.
func (r *roster) Names() []string { return r.names }

// RegisterParticipant links a client handle for bookkeeping.
func (r *roster) RegisterParticipant(id string, handle *broker.AgentClient) {
	r.handles[id] = handle
}

func (r *roster) knows(id string) bool {
	for _, name := range r.names {
		if name == id {
			return true
		}
	}
	return false
}

// actionIndex normalizes a wire action value into a discrete action index.
// JSON numbers decode as float64; in-process callers may pass ints.
func actionIndex(v any) (int, error) {
	switch a := v.(type) {
	case float64:
		return int(a), nil
	case int:
		return a, nil
	case int64:
		return int(a), nil
	default:
		return 0, fmt.Errorf("action %v (%T) is not a discrete index", v, v)
	}
}
