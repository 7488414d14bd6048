package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/andresmejia3/facelab/internal/utils" // Using the SafeCommand wrapper
)

// closeGrace is how long Close waits for a worker to exit on its own before killing it.
const closeGrace = 5 * time.Second

// Spawner starts one worker for a host slot.
type Spawner interface {
	Spawn(ctx context.Context, id, client string) (Conn, error)
}

// Conn is the host's end of the duplex channel to one worker.
type Conn interface {
	Send(m Message) error
	Recv() (Message, error)
	// Kill terminates the worker immediately, cancelling any item in progress.
	Kill() error
	// Close asks the worker to finish and waits for it.
	Close() error
	// Diagnostics returns whatever the worker left behind (stderr, panic text).
	// Only meaningful after Kill or Close.
	Diagnostics() string
}

// ProcessSpawner runs each worker as a child process speaking the frame protocol:
// host -> worker on stdin, worker -> host on a side pipe inherited as FD 3.
type ProcessSpawner struct {
	// Command defaults to the running executable.
	Command string
	// Args defaults to ["worker"]; "--client <name>" is always appended.
	Args []string
	// Env is added to the parent's environment.
	Env []string
}

func (s ProcessSpawner) Spawn(ctx context.Context, id, client string) (Conn, error) {
	command := s.Command
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		command = exe
	}
	args := s.Args
	if args == nil {
		args = []string{"worker"}
	}
	args = append(append([]string{}, args...), "--client", client)

	proc := utils.NewSafeCommand(ctx, command, args...)
	if len(s.Env) > 0 {
		proc.Env = append(os.Environ(), s.Env...)
	}

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %s failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &processConn{
		id:       id,
		cmd:      proc,
		stdin:    stdin,
		dataPipe: r,
		done:     make(chan struct{}),
	}, nil
}

type processConn struct {
	id       string
	cmd      *utils.SafeCommand
	stdin    io.WriteCloser
	dataPipe io.ReadCloser

	sendMu   sync.Mutex
	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

func (c *processConn) Send(m Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return WriteMessage(c.stdin, m)
}

func (c *processConn) Recv() (Message, error) {
	return ReadMessage(c.dataPipe)
}

// wait reaps the child exactly once, no matter how many goroutines ask.
func (c *processConn) wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
		c.dataPipe.Close()
		close(c.done)
	})
	return c.waitErr
}

func (c *processConn) Kill() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.stdin.Close()
	err := c.wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Being killed is the expected outcome here.
		return nil
	}
	return err
}

func (c *processConn) Close() error {
	c.sendMu.Lock()
	c.stdin.Close()
	c.sendMu.Unlock()

	go c.wait()
	select {
	case <-c.done:
		if c.waitErr != nil {
			return fmt.Errorf("worker %s exited: %w", c.id, c.waitErr)
		}
		return nil
	case <-time.After(closeGrace):
		return c.Kill()
	}
}

func (c *processConn) Diagnostics() string {
	select {
	case <-c.done:
		return c.cmd.Stderr.String()
	default:
		// The child is still writing to the buffer.
		return ""
	}
}
