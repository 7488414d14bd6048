package worker

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andresmejia3/facelab/internal/types"
)

// maxFrameSize bounds a single frame so a corrupt header cannot trigger a huge allocation.
const maxFrameSize = 256 << 20

// Kind identifies a protocol message.
type Kind string

const (
	// host -> client
	KindInit Kind = "init"
	KindData Kind = "data"
	KindExit Kind = "exit"

	// client -> host
	KindReady  Kind = "ready"
	KindResult Kind = "result"
	KindLog    Kind = "log"
	KindError  Kind = "error"
)

// Message is the body of every frame exchanged between host and client.
type Message struct {
	Kind   Kind              `json:"kind"`
	ID     string            `json:"id,omitempty"`
	Init   map[string]string `json:"init,omitempty"`
	Item   *types.WorkItem   `json:"item,omitempty"`
	Result *types.Result     `json:"result,omitempty"`
	Level  string            `json:"level,omitempty"`
	Text   string            `json:"text,omitempty"`
}

// WriteMessage sends one frame. Protocol: [Length][Data]
func WriteMessage(w io.Writer, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", m.Kind, err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("%s message too large: %d bytes", m.Kind, len(data))
	}

	// Header and body go out in one Write so concurrent writers never interleave a frame.
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	_, err = w.Write(frame)
	return err
}

// ReadMessage blocks until one full frame is available.
// io.EOF is returned unchanged when the peer closed the channel between frames.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}

	n := binary.BigEndian.Uint32(header)
	if n > maxFrameSize {
		return Message{}, fmt.Errorf("frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("malformed frame: %w", err)
	}
	return m, nil
}
