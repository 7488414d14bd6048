package worker

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andresmejia3/facelab/internal/types"
)

// ClientSpec holds the worker-side callbacks of a job.
// Only ProcessData is required.
type ClientSpec struct {
	// OnInitialize runs once with the init dict sent by the host.
	OnInitialize func(c *Client, init map[string]string) error
	// ProcessData turns one item into result bytes. A returned error is a data
	// failure for that item only; the worker keeps serving.
	ProcessData func(c *Client, item types.WorkItem) ([]byte, error)
	// DataName gives a human readable name for an item, used in log lines.
	DataName func(item types.WorkItem) string
}

// Client is the worker side of a host/client channel.
type Client struct {
	spec ClientSpec
	id   string
	r    io.Reader

	mu sync.Mutex
	w  io.Writer
}

// ID is the worker id the host assigned in its init message.
func (c *Client) ID() string {
	return c.id
}

// LogInfo forwards an informational line to the host.
func (c *Client) LogInfo(format string, args ...any) {
	c.log("info", format, args...)
}

// LogErr forwards an error line to the host.
func (c *Client) LogErr(format string, args ...any) {
	c.log("error", format, args...)
}

func (c *Client) log(level, format string, args ...any) {
	// Logging is best effort; a broken channel surfaces on the next send anyway.
	_ = c.send(Message{Kind: KindLog, Level: level, Text: fmt.Sprintf(format, args...)})
}

func (c *Client) send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteMessage(c.w, m)
}

func (c *Client) dataName(item types.WorkItem) string {
	if c.spec.DataName != nil {
		return c.spec.DataName(item)
	}
	return fmt.Sprintf("#%d", item.Index)
}

// Serve runs the client loop until the host sends exit or closes the channel.
// Panics inside callbacks are not recovered: the process dies and the host respawns it.
func Serve(spec ClientSpec, r io.Reader, w io.Writer) error {
	if spec.ProcessData == nil {
		return errors.New("client spec has no ProcessData")
	}
	c := &Client{spec: spec, r: r, w: w}

	for {
		m, err := ReadMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch m.Kind {
		case KindInit:
			c.id = m.ID
			if spec.OnInitialize != nil {
				if err := spec.OnInitialize(c, m.Init); err != nil {
					_ = c.send(Message{Kind: KindError, Text: err.Error()})
					return fmt.Errorf("initialize %s: %w", c.id, err)
				}
			}
			if err := c.send(Message{Kind: KindReady}); err != nil {
				return err
			}

		case KindData:
			if m.Item == nil {
				return errors.New("data message without item")
			}
			item := *m.Item
			res := types.Result{Index: item.Index}
			data, err := spec.ProcessData(c, item)
			if err != nil {
				c.LogErr("Exception while processing data [%s]: %v", c.dataName(item), err)
				res.Err = err.Error()
			} else {
				res.Data = data
			}
			if err := c.send(Message{Kind: KindResult, Result: &res}); err != nil {
				return err
			}

		case KindExit:
			return nil

		default:
			return fmt.Errorf("unexpected %q message from host", m.Kind)
		}
	}
}
