// Package transport implements the browser native-messaging wire format:
// every message is a 32-bit little-endian length followed by that many bytes
// of UTF-8 JSON.
package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/usecase"
)

const (
	// MaxInboundSize is the largest message the browser may send to the host.
	MaxInboundSize = 64 << 20
	// MaxOutboundSize is the largest message the browser accepts from the host.
	MaxOutboundSize = 1 << 20
)

var (
	// ErrMessageTooLarge is returned for a frame over the size limit.
	ErrMessageTooLarge = errors.New("native message too large")
	// ErrEmptyMessage is returned for a zero-length frame.
	ErrEmptyMessage = errors.New("native message is empty")
)

// Message is one inbound frame. A frame carrying Event is a tab/window event
// for the session tracker; any other frame is a request for the dispatcher.
type Message struct {
	ID string `json:"id,omitempty"`
	usecase.Request
	Event *domain.NavEvent `json:"event,omitempty"`
}

// IsEvent reports whether the frame is a navigation event.
func (m *Message) IsEvent() bool {
	return m.Event != nil
}

// Reply is one outbound frame, answering the Message with the same ID.
type Reply struct {
	ID string `json:"id,omitempty"`
	usecase.Response
	Error string `json:"error,omitempty"`
}

// Reader decodes frames from the browser.
type Reader struct {
	r       *bufio.Reader
	maxSize uint32
}

// NewReader creates a frame reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: MaxInboundSize}
}

// ReadFrame returns the next raw JSON payload. It returns io.EOF when the
// browser closed the pipe between frames.
func (r *Reader) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("failed to read frame header: %w", err)
		}
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if size == 0 {
		return nil, ErrEmptyMessage
	}
	if size > r.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return payload, nil
}

// ReadMessage reads and decodes the next frame.
func (r *Reader) ReadMessage() (*Message, error) {
	payload, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// Writer encodes frames to the browser. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	maxSize int
}

// NewWriter creates a frame writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, maxSize: MaxOutboundSize}
}

// WriteFrame writes payload as one frame.
func (w *Writer) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyMessage
	}
	if len(payload) > w.maxSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// WriteReply encodes and writes reply.
func (w *Writer) WriteReply(reply Reply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	return w.WriteFrame(payload)
}
