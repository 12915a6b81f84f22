// Package process runs external programs for command tasks and keeps track
// of them so a shutdown can kill whatever is still alive.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Command builds an exec.Cmd that leads its own process group. When ctx is
// done the whole group is killed, grandchildren included.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// Result is what a finished program left behind.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Elapsed  time.Duration
}

// Manager tracks the programs it started until they exit.
type Manager struct {
	mu      sync.Mutex
	running map[int]*exec.Cmd
}

// NewManager creates a Manager with nothing tracked.
func NewManager() *Manager {
	return &Manager{running: make(map[int]*exec.Cmd)}
}

// Default is the Manager command tasks use unless given another one.
var Default = NewManager()

// Run starts cmd with stdin as its input and waits for it.
//
// Stdout and stderr are drained on their own goroutines before Wait is
// called, so a program writing more than a pipe buffer cannot stall. A
// non-zero exit is returned as an error carrying the trimmed stderr; the
// Result is filled either way.
func (m *Manager) Run(cmd *exec.Cmd, stdin []byte) (Result, error) {
	var res Result
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return res, fmt.Errorf("stdout pipe: %w", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return res, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	m.track(cmd)
	defer m.untrack(cmd)

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go drain(&wg, &stdout, outPipe)
	go drain(&wg, &stderr, errPipe)
	wg.Wait()

	err = cmd.Wait()
	res = Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Elapsed:  time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(bytes.TrimSpace(res.Stderr)) > 0 {
		return res, fmt.Errorf("%s: %w: %s", cmd.Path, err, bytes.TrimSpace(res.Stderr))
	}
	return res, fmt.Errorf("%s: %w", cmd.Path, err)
}

func drain(wg *sync.WaitGroup, dst *bytes.Buffer, src io.Reader) {
	defer wg.Done()
	_, _ = io.Copy(dst, src)
}

func (m *Manager) track(cmd *exec.Cmd) {
	m.mu.Lock()
	m.running[cmd.Process.Pid] = cmd
	m.mu.Unlock()
}

func (m *Manager) untrack(cmd *exec.Cmd) {
	m.mu.Lock()
	delete(m.running, cmd.Process.Pid)
	m.mu.Unlock()
}

// KillAll kills the process group of every tracked program.
func (m *Manager) KillAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for pid, cmd := range m.running {
		if err := killGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count reports how many programs are running.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// killGroup sends SIGKILL to the group led by cmd; a negative pid addresses
// the group.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group: %w", err)
	}
	return nil
}
