// Package experiment handles experiment directory bookkeeping: a hard-reset
// run directory with one sub-directory per component (the coordinator and
// each participant), and a dedicated file logger per component.
package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// CoordinatorDir is the component name used for the coordinator's logs.
const CoordinatorDir = "Coordinator"

// Experiment is one initialized run directory.
type Experiment struct {
	Root string

	files []*os.File
}

// Init hard-initializes an experiment directory: any existing contents are
// removed and the root is recreated.
func Init(root string) (*Experiment, error) {
	if root == "" {
		return nil, fmt.Errorf("experiment root must not be empty")
	}
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("clear experiment dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create experiment dir: %w", err)
	}
	return &Experiment{Root: root}, nil
}

// ComponentLogger creates <root>/<name>/<name>.log and returns a logger
// writing to it at debug level.
func (e *Experiment) ComponentLogger(name string) (*logrus.Logger, error) {
	dir := filepath.Join(e.Root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create component dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return nil, fmt.Errorf("create component log: %w", err)
	}
	e.files = append(e.files, f)

	logger := logrus.New()
	logger.SetOutput(f)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
		DisableColors:   true,
	})
	return logger, nil
}

// CoordinatorLogger is ComponentLogger for the coordinator's directory.
func (e *Experiment) CoordinatorLogger() (*logrus.Logger, error) {
	return e.ComponentLogger(CoordinatorDir)
}

// Close closes every log file opened for this experiment.
func (e *Experiment) Close() error {
	var firstErr error
	for _, f := range e.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.files = nil
	return firstErr
}
