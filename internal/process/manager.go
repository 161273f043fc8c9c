package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	healthCheckTimeout     = 5 * time.Second
	maxHealthCheckFailures = 3
	killWaitTimeout        = 5 * time.Second
)

// ErrRestartsExhausted is passed to OnGiveUp when MaxRestartAttempts is hit.
var ErrRestartsExhausted = errors.New("restart attempts exhausted")

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	Binary string
	Args   []string

	// Env is appended to the parent environment. Nil inherits it unchanged.
	Env []string

	RestartOnFailure bool

	// RestartDelay is the first backoff delay. It doubles per consecutive
	// failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a process must run before its
	// consecutive-failure count resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc, if set, runs every HealthCheckInterval. Three
	// consecutive failures kill the process, which then restarts as if it
	// had crashed.
	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration

	// OnGiveUp is called once when the manager stops restarting.
	OnGiveUp func(err error)
}

// DefaultConfig returns a Config with restart enabled and default timings.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        5 * time.Second,
		MaxRestartDelay:     5 * time.Minute,
		StableThreshold:     2 * time.Minute,
		MaxRestartAttempts:  10,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Logger defines the logging interface for the process manager.
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

// Manager supervises one subprocess.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	failures      int
	lastError     error
	startTime     time.Time
	stopRequested bool
	stop          chan struct{}
	done          chan struct{}
}

// NewManager creates a manager. Zero durations take their defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and supervises it until Stop or ctx ends.
// Only the first launch error is returned; later ones go through the
// restart policy.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.failures = 0
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	done, stop := m.done, m.stop
	m.mu.Unlock()

	cmd, err := m.launch()
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.supervise(ctx, cmd, done, stop)
	return nil
}

func (m *Manager) launch() (*exec.Cmd, error) {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

// captureOutput logs the stream line by line.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("process output",
			"name", m.config.Name,
			"stream", stream,
			"line", scanner.Text(),
		)
	}
}

// supervise waits for each run to end and applies the restart policy.
func (m *Manager) supervise(ctx context.Context, cmd *exec.Cmd, done, stop chan struct{}) {
	defer close(done)

	for {
		err := m.wait(ctx, cmd)

		m.mu.RLock()
		stopRequested := m.stopRequested
		ranFor := time.Since(m.startTime)
		m.mu.RUnlock()

		if stopRequested {
			m.setStatus(StatusStopped, nil)
			m.logger.Info("process stopped as requested", "name", m.config.Name)
			return
		}
		if ctx.Err() != nil {
			m.terminate(cmd)
			m.setStatus(StatusStopped, nil)
			return
		}

		if err == nil {
			err = errors.New("exited with status 0")
		}
		m.logger.Warn("process exited unexpectedly",
			"name", m.config.Name,
			"error", err,
			"ran_for", ranFor.Round(time.Millisecond),
		)
		m.setStatus(StatusFailed, err)

		if !m.config.RestartOnFailure {
			m.giveUp(err)
			return
		}

		delay, ok := m.nextAttempt(ranFor)
		for {
			if !ok {
				m.logger.Error("max restart attempts reached", "name", m.config.Name)
				m.giveUp(fmt.Errorf("%w: %w", ErrRestartsExhausted, err))
				return
			}

			m.logger.Info("restarting process", "name", m.config.Name, "delay", delay)
			select {
			case <-ctx.Done():
				m.setStatus(StatusStopped, nil)
				return
			case <-stop:
				m.setStatus(StatusStopped, nil)
				return
			case <-time.After(delay):
			}

			var next *exec.Cmd
			if next, err = m.launch(); err == nil {
				cmd = next
				break
			}
			m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
			m.setStatus(StatusFailed, err)
			delay, ok = m.nextAttempt(0)
		}
	}
}

// nextAttempt counts a failure and returns the backoff before the next
// launch. A run longer than StableThreshold resets the count first.
func (m *Manager) nextAttempt(ranFor time.Duration) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ranFor >= m.config.StableThreshold {
		m.failures = 0
	}
	m.failures++

	if m.config.MaxRestartAttempts > 0 && m.failures > m.config.MaxRestartAttempts {
		return 0, false
	}
	m.restartCount++
	return backoff(m.config.RestartDelay, m.config.MaxRestartDelay, m.failures), true
}

// backoff returns base doubled (attempt-1) times, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// wait blocks until the process exits, the watchdog kills it, or ctx ends.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	var tick <-chan time.Time
	if m.config.HealthCheckFunc != nil {
		ticker := time.NewTicker(m.config.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return ctx.Err()

		case <-tick:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheckFunc(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("health check recovered", "name", m.config.Name)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("health check failed",
				"name", m.config.Name,
				"error", err,
				"consecutive_failures", failures,
			)
			if failures < maxHealthCheckFailures {
				continue
			}

			m.logger.Error("health check failed repeatedly, killing process", "name", m.config.Name)
			_ = cmd.Process.Kill() //nolint:errcheck // Exit is observed below
			select {
			case <-exitCh:
			case <-time.After(killWaitTimeout):
			}
			return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
		}
	}
}

// terminate signals the process group after the supervising context ended.
func (m *Manager) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = signalGroup(cmd.Process.Pid, syscall.SIGKILL) //nolint:errcheck // Process may already be gone
}

func (m *Manager) giveUp(err error) {
	if m.config.OnGiveUp != nil {
		m.config.OnGiveUp(err)
	}
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	m.status = s
	if err != nil {
		m.lastError = err
	}
	m.mu.Unlock()
}

// Stop sends SIGTERM to the process group, waits up to GracefulTimeout,
// then sends SIGKILL. It is a no-op when nothing is running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopRequested {
		m.stopRequested = true
		close(m.stop)
	}
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		m.logger.Warn("failed to send SIGTERM", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// signalGroup signals the process group created via Setpgid. A group that
// has already exited is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused the process to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time view of the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning {
		if m.cmd != nil && m.cmd.Process != nil {
			stats.PID = m.cmd.Process.Pid
		}
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
