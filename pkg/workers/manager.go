package workers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Manager supervises the stage worker processes. It is constructed once
// by the composition root and passed by handle to whatever enqueues jobs;
// there is no package-level instance.
type Manager struct {
	mu sync.Mutex

	binary       string
	names        []string
	restartDelay time.Duration
	gracePeriod  time.Duration

	procs map[string]*workerProcess

	// autoRestart is cleared by an intentional StopAll so restarts never
	// fight a shutdown, and re-armed by the next explicit start.
	autoRestart bool

	execCommand func(name string, arg ...string) *exec.Cmd
}

type workerProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	stopping bool
}

func NewManager(names []string, restartDelay, gracePeriod time.Duration) (*Manager, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve worker binary: %w", err)
	}
	return &Manager{
		binary:       binary,
		names:        names,
		restartDelay: restartDelay,
		gracePeriod:  gracePeriod,
		procs:        make(map[string]*workerProcess),
		autoRestart:  true,
		execCommand:  exec.Command,
	}, nil
}

func (m *Manager) knownWorker(name string) bool {
	for _, n := range m.names {
		if n == name {
			return true
		}
	}
	return false
}

// Start launches the named worker. Starting an already-running worker is
// a no-op, never a duplicate process.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoRestart = true
	return m.startLocked(ctx, name)
}

func (m *Manager) startLocked(ctx context.Context, name string) error {
	if !m.knownWorker(name) {
		return fmt.Errorf("unknown worker: %s", name)
	}
	if _, running := m.procs[name]; running {
		zerolog.Ctx(ctx).Debug().Str("worker", name).Msg("worker already running")
		return nil
	}

	cmd := m.execCommand(m.binary, "worker", "--name", name)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker %s: %w", name, err)
	}

	proc := &workerProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	m.procs[name] = proc

	zerolog.Ctx(ctx).Info().Str("worker", name).Int("pid", cmd.Process.Pid).Msg("worker started")

	go m.wait(ctx, name, proc)
	return nil
}

func (m *Manager) wait(ctx context.Context, name string, proc *workerProcess) {
	err := proc.cmd.Wait()
	close(proc.done)

	m.mu.Lock()
	if m.procs[name] == proc {
		delete(m.procs, name)
	}
	stopping := proc.stopping
	restart := m.autoRestart && !stopping && err != nil
	m.mu.Unlock()

	if err != nil && !stopping {
		zerolog.Ctx(ctx).Error().Err(err).Str("worker", name).Msg("worker exited abnormally")
	} else {
		zerolog.Ctx(ctx).Info().Str("worker", name).Msg("worker exited")
	}

	if restart {
		zerolog.Ctx(ctx).Info().
			Str("worker", name).
			Dur("delay", m.restartDelay).
			Msg("scheduling worker restart")
		time.AfterFunc(m.restartDelay, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if !m.autoRestart {
				return
			}
			if startErr := m.startLocked(ctx, name); startErr != nil {
				zerolog.Ctx(ctx).Error().Err(startErr).Str("worker", name).Msg("worker restart failed")
			}
		})
	}
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoRestart = true
	for _, name := range m.names {
		if err := m.startLocked(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// EnsureRunning starts only the workers that are not currently running.
func (m *Manager) EnsureRunning(ctx context.Context) error {
	return m.StartAll(ctx)
}

// Stop terminates the named worker: SIGTERM first, SIGKILL once the
// grace period elapses. Stopping a non-running worker is a no-op.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	proc, running := m.procs[name]
	if !running {
		m.mu.Unlock()
		return nil
	}
	proc.stopping = true
	m.mu.Unlock()

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("worker", name).Msg("failed to signal worker")
	}

	select {
	case <-proc.done:
	case <-time.After(m.gracePeriod):
		zerolog.Ctx(ctx).Warn().Str("worker", name).Msg("grace period elapsed, killing worker")
		if err := proc.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill worker %s: %w", name, err)
		}
		<-proc.done
	}
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.autoRestart = false
	names := make([]string, 0, len(m.procs))
	for name := range m.procs {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.Stop(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) Restart(ctx context.Context, name string) error {
	if err := m.Stop(ctx, name); err != nil {
		return err
	}
	return m.Start(ctx, name)
}

// Running reports every known worker and whether it is currently up.
func (m *Manager) Running() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := make(map[string]bool, len(m.names))
	for _, name := range m.names {
		_, up := m.procs[name]
		state[name] = up
	}
	return state
}
