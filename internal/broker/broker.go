// Package broker runs a local mosquitto MQTT broker under supervision.
//
// When broker.managed is set the relay service starts mosquitto before
// connecting its MQTT client and stops it last on shutdown. Readiness and
// the watchdog are plain TCP dials on the listener port.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/infrastructure/config"
	"github.com/SunshadeCorp/relay-service/internal/process"
)

const (
	readyTimeout        = 10 * time.Second
	readyPollInterval   = 100 * time.Millisecond
	dialTimeout         = 500 * time.Millisecond
	healthCheckInterval = 30 * time.Second
	gracefulTimeout     = 10 * time.Second
	maxRestartDelay     = 2 * time.Minute
)

// ErrNotReady is returned when mosquitto never accepts connections.
var ErrNotReady = errors.New("broker not ready")

// Logger defines the logging interface for the broker manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns the mosquitto process.
type Manager struct {
	cfg  config.BrokerConfig
	port int
	args []string

	readyTimeout time.Duration
	logger       Logger
	onFailure    func(error)

	process *process.Manager
}

// BuildArgs returns the mosquitto command line: the config file when one is
// set, otherwise just the listener port.
func BuildArgs(cfg config.BrokerConfig, port int) []string {
	if cfg.ConfigFile != "" {
		return []string{"-c", cfg.ConfigFile}
	}
	return []string{"-p", strconv.Itoa(port)}
}

// New validates the binary and prepares a manager for the broker listening
// on port.
func New(cfg config.BrokerConfig, port int) (*Manager, error) {
	if cfg.Binary == "" {
		return nil, errors.New("broker binary is required")
	}
	info, err := os.Stat(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("broker binary: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("broker binary %s is not executable", cfg.Binary)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid broker port %d", port)
	}

	return &Manager{
		cfg:          cfg,
		port:         port,
		args:         BuildArgs(cfg, port),
		readyTimeout: readyTimeout,
		logger:       noopLogger{},
	}, nil
}

// SetLogger sets the logger for the manager and its process supervisor.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetOnFailure registers a callback for when mosquitto cannot be kept
// running.
func (m *Manager) SetOnFailure(fn func(error)) {
	m.onFailure = fn
}

// Address is the local listener address.
func (m *Manager) Address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(m.port))
}

// Start launches mosquitto and blocks until it accepts TCP connections.
func (m *Manager) Start(ctx context.Context) error {
	m.process = process.NewManager(process.Config{
		Name:                "mosquitto",
		Binary:              m.cfg.Binary,
		Args:                m.args,
		RestartOnFailure:    m.cfg.RestartOnFailure,
		RestartDelay:        time.Duration(m.cfg.RestartDelaySeconds) * time.Second,
		MaxRestartDelay:     maxRestartDelay,
		MaxRestartAttempts:  m.cfg.MaxRestartAttempts,
		GracefulTimeout:     gracefulTimeout,
		HealthCheckInterval: healthCheckInterval,
		HealthCheckFunc:     m.HealthCheck,
		OnGiveUp: func(err error) {
			m.logger.Error("mosquitto supervision gave up", "error", err)
			if m.onFailure != nil {
				m.onFailure(err)
			}
		},
	})
	m.process.SetLogger(m.logger)

	if err := m.process.Start(ctx); err != nil {
		return fmt.Errorf("starting mosquitto: %w", err)
	}

	if err := m.waitForReady(ctx); err != nil {
		if stopErr := m.process.Stop(); stopErr != nil {
			m.logger.Warn("error stopping mosquitto after failed readiness check", "error", stopErr)
		}
		return err
	}

	m.logger.Info("mosquitto ready", "address", m.Address(), "pid", m.process.PID())
	return nil
}

func (m *Manager) waitForReady(ctx context.Context) error {
	addr := m.Address()
	deadline := time.Now().Add(m.readyTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for mosquitto: %w", err)
		}
		if !m.process.IsRunning() {
			if lastErr := m.process.LastError(); lastErr != nil {
				return fmt.Errorf("mosquitto exited: %w", lastErr)
			}
			return errors.New("mosquitto exited before accepting connections")
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: nothing listening on %s after %v", ErrNotReady, addr, m.readyTimeout)
		}

		select {
		case <-ctx.Done():
		case <-time.After(readyPollInterval):
		}
	}
}

// HealthCheck dials the listener.
func (m *Manager) HealthCheck(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.Address())
	if err != nil {
		return fmt.Errorf("mosquitto not accepting connections: %w", err)
	}
	return conn.Close()
}

// Stop terminates mosquitto. It is safe before Start.
func (m *Manager) Stop() error {
	if m.process == nil {
		return nil
	}
	m.logger.Info("stopping mosquitto")
	return m.process.Stop()
}

// Stats reports the supervised process state.
func (m *Manager) Stats() process.Stats {
	if m.process == nil {
		return process.Stats{Name: "mosquitto", Status: process.StatusStopped}
	}
	return m.process.Stats()
}
