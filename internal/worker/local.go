package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var errKilled = errors.New("worker killed")

// LocalSpawner runs each worker as a goroutine connected by in-memory pipes.
// A panic in the client breaks the channel, which the host sees the same way
// as a dead child process.
type LocalSpawner struct {
	// Lookup resolves client names; defaults to the package registry.
	Lookup func(name string) (ClientSpec, error)
}

func (s LocalSpawner) Spawn(ctx context.Context, id, client string) (Conn, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = Lookup
	}
	spec, err := lookup(client)
	if err != nil {
		return nil, err
	}

	toHostR, toHostW := io.Pipe()
	toClientR, toClientW := io.Pipe()
	c := &localConn{
		id:   id,
		r:    toHostR,
		w:    toClientW,
		done: make(chan struct{}),
	}

	go func() {
		defer close(c.done)
		defer func() {
			if r := recover(); r != nil {
				c.setDiagnostics(fmt.Sprintf("panic: %v", r))
				err := fmt.Errorf("worker %s panicked: %v", id, r)
				toHostW.CloseWithError(err)
				toClientR.CloseWithError(err)
			}
		}()

		err := Serve(spec, toClientR, toHostW)
		if err != nil {
			c.setDiagnostics(err.Error())
		}
		// A nil error closes with io.EOF, like a process exiting cleanly.
		toHostW.CloseWithError(err)
		toClientR.Close()
	}()

	return c, nil
}

type localConn struct {
	id string
	r  *io.PipeReader
	w  *io.PipeWriter

	sendMu sync.Mutex
	mu     sync.Mutex
	diag   string
	done   chan struct{}
}

func (c *localConn) Send(m Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return WriteMessage(c.w, m)
}

func (c *localConn) Recv() (Message, error) {
	return ReadMessage(c.r)
}

// Kill breaks both directions of the channel. A goroutine stuck inside
// ProcessData keeps running until its next send fails.
func (c *localConn) Kill() error {
	c.w.CloseWithError(errKilled)
	c.r.CloseWithError(errKilled)
	return nil
}

func (c *localConn) Close() error {
	c.w.Close()
	select {
	case <-c.done:
		return nil
	case <-time.After(closeGrace):
		return c.Kill()
	}
}

func (c *localConn) setDiagnostics(s string) {
	c.mu.Lock()
	c.diag = s
	c.mu.Unlock()
}

func (c *localConn) Diagnostics() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diag
}
