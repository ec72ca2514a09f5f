// Package wire implements the newline-delimited JSON framing shared by
// the client and the command server.
//
// One message per line: a JSON document terminated by '\n'. Payloads are
// JSON-compatible only; embedded newlines cannot occur because encoding/json
// escapes them inside strings. Callers must not pipeline partial documents.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/hostbridge/types"
)

// MaxMessageSize is the maximum encoded message size (16 MiB), including
// the trailing newline. Oversized messages are a fatal framing error.
const MaxMessageSize = 16 * 1024 * 1024

// FrameErrorKind classifies framing errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a stream that ended mid-message.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a message exceeding MaxMessageSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a JSON decoding error.
	FrameErrorDecode
)

// FrameError represents a framing or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal returns true if this error must terminate the connection.
// Truncated and oversized messages are fatal; decode errors are not —
// the reader stays at a line boundary and can answer bad_request.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Decoder reads newline-delimited JSON messages from a stream.
type Decoder struct {
	reader *bufio.Reader
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024)}
}

// ReadMessage reads one message and returns its raw JSON bytes without
// the trailing newline.
//
// Errors:
//   - io.EOF: stream ended cleanly at a message boundary
//   - *FrameError with Kind=FrameErrorPartial: stream ended mid-message (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: message exceeds limit (fatal)
func (d *Decoder) ReadMessage() ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := d.reader.ReadSlice('\n')
		buf.Write(chunk)

		if buf.Len() > MaxMessageSize {
			return nil, &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("message exceeds maximum %d bytes", MaxMessageSize),
			}
		}

		switch {
		case err == nil:
			line := bytes.TrimRight(buf.Bytes(), "\r\n")
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if buf.Len() == 0 {
				return nil, io.EOF
			}
			return nil, &FrameError{
				Kind: FrameErrorPartial,
				Msg:  "stream ended mid-message",
				Err:  io.ErrUnexpectedEOF,
			}
		default:
			return nil, &FrameError{
				Kind: FrameErrorPartial,
				Msg:  "failed to read message",
				Err:  err,
			}
		}
	}
}

// DecodeCommand decodes raw message bytes as a Command.
// A missing or empty type field is a decode error.
func DecodeCommand(payload []byte) (*types.Command, error) {
	var cmd types.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode command",
			Err:  err,
		}
	}
	if cmd.Type == "" {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "command missing type field",
		}
	}
	return &cmd, nil
}

// DecodeResponse decodes raw message bytes as a Response.
func DecodeResponse(payload []byte) (*types.Response, error) {
	var resp types.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode response",
			Err:  err,
		}
	}
	return &resp, nil
}

// Encoder writes newline-delimited JSON messages to a stream.
type Encoder struct {
	writer io.Writer
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// WriteMessage marshals v and writes it as one line.
func (e *Encoder) WriteMessage(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to encode message",
			Err:  err,
		}
	}
	if len(data)+1 > MaxMessageSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("message exceeds maximum %d bytes", MaxMessageSize),
		}
	}
	data = append(data, '\n')
	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// WriteRaw writes an already-encoded payload as one line. The payload must
// not contain a newline.
func (e *Encoder) WriteRaw(payload []byte) error {
	if len(payload)+1 > MaxMessageSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("message exceeds maximum %d bytes", MaxMessageSize),
		}
	}
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	if _, err := e.writer.Write(line); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
