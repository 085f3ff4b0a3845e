package app

import (
	"io"
	"sync"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/util"
)

type Supervisor struct {
	configPath string
	logOutput  io.Writer
	logger     util.Logger
	mu         sync.Mutex
	runtime    *Runtime
}

// NewSupervisor loads configPath on every Start. The runtime logs to
// logOutput with the level and format from the loaded config; logger is used
// until then.
func NewSupervisor(configPath string, logOutput io.Writer, logger util.Logger) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		logOutput:  logOutput,
		logger:     logger,
	}
}

func (s *Supervisor) Start() error {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	logger := util.NewLoggerWithOptions(s.logOutput, cfg.Logging.Level, cfg.Logging.Format)
	runtime, err := NewRuntime(cfg, logger)
	if err != nil {
		return err
	}
	if err := runtime.Start(); err != nil {
		runtime.Stop()
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.logger = logger
	s.mu.Unlock()
	return nil
}

// Restart stops the current runtime and starts a new one from a fresh read of
// the config file.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	logger := s.logger
	s.mu.Unlock()

	if current != nil {
		current.Stop()
	}
	logger.Info("reloading configuration", "path", s.configPath)
	return s.Start()
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}
