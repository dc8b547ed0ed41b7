package framework

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process manages one drover child process with output capture and
// lifecycle control
type Process struct {
	Binary string
	Args   []string
	Env    []string

	mu  sync.Mutex
	cmd *exec.Cmd
	out lockedBuffer
}

// NewProcess creates a new Process instance
func NewProcess(binary string, args ...string) *Process {
	return &Process{
		Binary: binary,
		Args:   args,
	}
}

// Start starts the process
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.cmd.Process != nil {
		return fmt.Errorf("process already running with PID %d", p.cmd.Process.Pid)
	}

	p.cmd = exec.Command(p.Binary, p.Args...)
	p.cmd.Env = append(os.Environ(), p.Env...)
	p.cmd.Stdout = &p.out
	p.cmd.Stderr = &p.out

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	return nil
}

// Wait blocks until the process exits on its own or the timeout passes.
func (p *Process) Wait(timeout time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("process not running")
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("process did not exit within %v", timeout)
	}
}

// Stop stops the process gracefully with SIGTERM, falling back to SIGKILL
// after ten seconds.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		_ = p.cmd.Process.Kill()
		<-done
		return fmt.Errorf("process ignored SIGTERM, killed")
	}
}

// Output returns everything the process has written so far.
func (p *Process) Output() string {
	return p.out.String()
}

// lockedBuffer is an io.Writer safe to share between stdout and stderr.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(data)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
