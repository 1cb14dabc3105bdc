package protocol

import (
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/clearskies/core/message"
)

// Encoder is the write-side counterpart of ProtocolState. It frames
// messages and chunks payload streams onto an underlying writer.
type Encoder struct {
	// Output is the underlying writer receiving framed output.
	Output io.Writer
	// MaxChunkSize caps the chunks produced by WritePayload. It must not
	// exceed MaxChunkSize, which peers reject.
	MaxChunkSize int

	coder *message.Coder
}

// NewEncoder delivers an Encoder framing onto output, encoding bodies with
// coder.
func NewEncoder(output io.Writer, coder *message.Coder) *Encoder {
	return &Encoder{Output: output, MaxChunkSize: MaxChunkSize, coder: coder}
}

// WriteMessage frames and writes one message: the prefix derived from the
// message flags, the body line and, when the message is signed, the
// signature line.
func (e *Encoder) WriteMessage(m *message.Message) error {
	if bytes.IndexByte(m.Signature, '\n') >= 0 {
		return errors.New("signature must not contain a newline")
	}

	body, err := e.coder.EncodeMsg(m)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(body)+len(m.Signature)+3)
	signed := len(m.Signature) > 0
	switch {
	case m.HasPayload && signed:
		frame = append(frame, prefixSignedPayload)
	case m.HasPayload:
		frame = append(frame, prefixPayload)
	case signed:
		frame = append(frame, prefixSigned)
	}
	frame = append(frame, body...)
	frame = append(frame, '\n')
	if signed {
		frame = append(frame, m.Signature...)
		frame = append(frame, '\n')
	}

	_, err = e.Output.Write(frame)
	return errors.Wrap(err, "write frame")
}

// WritePayload writes b as one or more size-prefixed chunks. It does not
// terminate the stream; call EndPayload once all chunks are written.
func (e *Encoder) WritePayload(b []byte) error {
	max := e.MaxChunkSize
	if max <= 0 || max > MaxChunkSize {
		max = MaxChunkSize
	}
	for len(b) > 0 {
		n := len(b)
		if n > max {
			n = max
		}
		if _, err := io.WriteString(e.Output, strconv.Itoa(n)+"\n"); err != nil {
			return errors.Wrap(err, "write chunk header")
		}
		if _, err := e.Output.Write(b[:n]); err != nil {
			return errors.Wrap(err, "write chunk data")
		}
		b = b[n:]
	}
	return nil
}

// EndPayload terminates the payload stream with the zero-sized chunk.
func (e *Encoder) EndPayload() error {
	_, err := io.WriteString(e.Output, "0\n")
	return errors.Wrap(err, "write payload terminator")
}
