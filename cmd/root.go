package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joint-sim/joint-sim/broker"
	"github.com/joint-sim/joint-sim/broker/envs"
	"github.com/joint-sim/joint-sim/broker/experiment"
	"github.com/joint-sim/joint-sim/broker/memq"
	"github.com/joint-sim/joint-sim/broker/natsmq"
)

var (
	// CLI flags shared by run and serve
	envName    string // Which demo joint engine to load
	configPath string // Engine yaml config ("" = configs/<env>.yaml)
	logLevel   string // Log verbosity level
	queueName  string // Shared request queue name

	// run flags
	expPath  string // Experiment directory ("" = no bookkeeping)
	episodes int    // Demo episodes per participant
	seed     int64  // Seed for the random demo policy

	// serve flags
	natsURL string // NATS server URL
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "jointsim",
	Short: "Barrier-synchronizing request broker for joint multi-agent simulations",
}

// buildEngine constructs the selected demo engine from its yaml config.
func buildEngine() (broker.JointEngine, error) {
	path := configPath
	if path == "" {
		path = filepath.Join("configs", envName+".yaml")
	}
	cfg, err := envs.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	switch envName {
	case "trivial":
		return envs.NewTrivial(cfg), nil
	case "gridnav":
		return envs.NewGridNav(cfg), nil
	case "meteor":
		return envs.NewMeteor(cfg), nil
	default:
		return nil, fmt.Errorf("unknown env %q (want trivial, gridnav or meteor)", envName)
	}
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// runCmd drives a full in-process demo: coordinator, N clients, and a random
// policy per participant, all over the in-memory transport.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run demo episodes against a chosen joint engine in-process",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		engine, err := buildEngine()
		if err != nil {
			logrus.Fatalf("unable to build engine: %v", err)
		}

		transport := memq.New()
		coordOpts := []broker.CoordinatorOption{broker.WithRequestQueue(queueName)}

		var exp *experiment.Experiment
		if expPath != "" {
			exp, err = experiment.Init(expPath)
			if err != nil {
				logrus.Fatalf("unable to init experiment dir: %v", err)
			}
			defer exp.Close()
			coordLog, err := exp.CoordinatorLogger()
			if err != nil {
				logrus.Fatalf("unable to create coordinator log: %v", err)
			}
			coordOpts = append(coordOpts, broker.WithLogger(coordLog))
		}

		coordinator := broker.NewCoordinator(engine, transport, coordOpts...)

		// Clients register before the broker starts listening, like the
		// original workflow: roster first, traffic second.
		clients := make([]*broker.AgentClient, 0, len(engine.Names()))
		for _, name := range engine.Names() {
			opts := []broker.ClientOption{broker.WithClientRequestQueue(queueName)}
			if exp != nil {
				clientLog, err := exp.ComponentLogger(name)
				if err != nil {
					logrus.Fatalf("unable to create client log: %v", err)
				}
				opts = append(opts, broker.WithClientLogger(clientLog))
			}
			clients = append(clients, broker.NewAgentClient(name, coordinator, transport, opts...))
		}

		if err := coordinator.Start(); err != nil {
			logrus.Fatalf("coordinator failed to start: %v", err)
		}

		var wg sync.WaitGroup
		for i, client := range clients {
			wg.Add(1)
			go func(i int, client *broker.AgentClient) {
				defer wg.Done()
				drive(client, rand.New(rand.NewSource(seed+int64(i))))
			}(i, client)
		}
		wg.Wait()

		coordinator.Close()
		logrus.Info("Demo complete.")
	},
}

// drive runs the demo episodes for one participant with a uniform random
// policy. Episode ends are shared by every participant in the demo engines,
// so the cohorts stay aligned across episodes.
func drive(client *broker.AgentClient, rng *rand.Rand) {
	sizeProp, err := client.SharedProperty("action_size")
	if err != nil {
		logrus.Fatalf("participant %s: %v", client.Name(), err)
	}
	actionSize := sizeProp.(int)

	for ep := 0; ep < episodes; ep++ {
		if _, err := client.Reset(); err != nil {
			logrus.Fatalf("participant %s reset: %v", client.Name(), err)
		}
		var epReturn float64
		for {
			outcome, err := client.Step(rng.Intn(actionSize))
			if err != nil {
				logrus.Fatalf("participant %s step: %v", client.Name(), err)
			}
			if outcome.FromReset {
				// Another participant's reset won the cycle; keep stepping
				// from the fresh observation.
				continue
			}
			epReturn += outcome.Reward
			if outcome.Done {
				break
			}
		}
		logrus.Infof("participant %s episode %d return %.2f", client.Name(), ep, epReturn)
	}
}

// serveCmd runs only the coordinator, against a NATS server, for
// out-of-process clients.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the coordinator over NATS for external clients",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		engine, err := buildEngine()
		if err != nil {
			logrus.Fatalf("unable to build engine: %v", err)
		}

		coordinator := broker.NewCoordinator(engine, natsmq.New(natsURL),
			broker.WithRequestQueue(queueName))
		if err := coordinator.Start(); err != nil {
			logrus.Fatalf("coordinator failed to start: %v", err)
		}

		logrus.Infof("coordinator serving %d participants on %s", len(engine.Names()), natsURL)
		select {}
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "trivial", "Joint engine (trivial, gridnav, meteor)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Engine yaml config (default configs/<env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&queueName, "queue", broker.DefaultRequestQueue, "Shared request queue name")

	runCmd.Flags().StringVar(&expPath, "exp-path", "", "Experiment directory for per-component logs")
	runCmd.Flags().IntVar(&episodes, "episodes", 3, "Demo episodes per participant")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for the random demo policy")

	serveCmd.Flags().StringVar(&natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}
