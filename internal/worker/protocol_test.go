package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/andresmejia3/facelab/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func TestWriteMessage_Framing(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}

	item := types.WorkItem{Index: 7, Data: []byte("faces/0007.jpg")}
	if err := WriteMessage(pipe, Message{Kind: KindData, Item: &item}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	// Protocol: [Length][Data]
	raw := pipe.Bytes()
	n := binary.BigEndian.Uint32(raw[:4])
	if int(n) != len(raw)-4 {
		t.Fatalf("Header says %d bytes, body has %d", n, len(raw)-4)
	}

	got, err := ReadMessage(pipe)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if got.Kind != KindData || got.Item == nil {
		t.Fatalf("Expected data message with item, got %+v", got)
	}
	if got.Item.Index != 7 || string(got.Item.Data) != "faces/0007.jpg" {
		t.Errorf("Item mangled in transit: %+v", got.Item)
	}

	// Nothing left: clean EOF between frames
	if _, err := ReadMessage(pipe); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestReadMessage_Truncated(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(pipe, binary.BigEndian, uint32(100))
	pipe.WriteString(`{"kind":`)

	if _, err := ReadMessage(pipe); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadMessage_TooLarge(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(pipe, binary.BigEndian, uint32(maxFrameSize+1))

	_, err := ReadMessage(pipe)
	if err == nil || !strings.Contains(err.Error(), "frame too large") {
		t.Errorf("Expected frame too large error, got %v", err)
	}
}

func TestServe_Protocol(t *testing.T) {
	// stdinMock simulates the pipe TO the worker (host writes to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM the worker
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	WriteMessage(stdinMock, Message{Kind: KindInit, ID: "CPU0", Init: map[string]string{"prefix": ">"}})
	WriteMessage(stdinMock, Message{Kind: KindData, Item: &types.WorkItem{Index: 0, Data: []byte("ok")}})
	WriteMessage(stdinMock, Message{Kind: KindData, Item: &types.WorkItem{Index: 1, Data: []byte("bad")}})
	WriteMessage(stdinMock, Message{Kind: KindExit})

	var prefix string
	spec := ClientSpec{
		OnInitialize: func(c *Client, init map[string]string) error {
			prefix = init["prefix"]
			return nil
		},
		ProcessData: func(c *Client, item types.WorkItem) ([]byte, error) {
			if string(item.Data) == "bad" {
				return nil, errors.New("not a face image")
			}
			return []byte(prefix + c.ID() + string(item.Data)), nil
		},
		DataName: func(item types.WorkItem) string { return string(item.Data) },
	}

	if err := Serve(spec, stdinMock, dataPipeMock); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	var kinds []Kind
	var results []types.Result
	for {
		m, err := ReadMessage(dataPipeMock)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, m.Kind)
		if m.Kind == KindResult {
			results = append(results, *m.Result)
		}
		if m.Kind == KindLog && !strings.Contains(m.Text, "[bad]") {
			t.Errorf("Expected the data name in the log line, got %q", m.Text)
		}
	}

	wantKinds := []Kind{KindReady, KindResult, KindLog, KindResult}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("Expected %v, got %v", wantKinds, kinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Errorf("message %d: expected %s, got %s", i, wantKinds[i], kinds[i])
		}
	}

	if string(results[0].Data) != ">CPU0ok" || results[0].Failed() {
		t.Errorf("Unexpected first result %+v", results[0])
	}
	if !results[1].Failed() || results[1].Index != 1 {
		t.Errorf("Expected a data failure for item 1, got %+v", results[1])
	}
}

func TestServe_InitFailure(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	WriteMessage(stdinMock, Message{Kind: KindInit, ID: "CPU0"})

	spec := ClientSpec{
		OnInitialize: func(*Client, map[string]string) error { return errors.New("no GPU") },
		ProcessData:  func(*Client, types.WorkItem) ([]byte, error) { return nil, nil },
	}
	if err := Serve(spec, stdinMock, dataPipeMock); err == nil {
		t.Fatal("Expected error, got nil")
	}

	m, err := ReadMessage(dataPipeMock)
	if err != nil {
		t.Fatal(err)
	}
	if m.Kind != KindError || m.Text != "no GPU" {
		t.Errorf("Expected error message 'no GPU', got %+v", m)
	}
}
