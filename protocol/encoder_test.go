package protocol

import (
	"bytes"
	"errors"
	"testing"

	assert "github.com/stretchr/testify/require"

	"github.com/clearskies/core/message"
)

func newTestEncoder(t *testing.T) (*Encoder, *bytes.Buffer) {
	coder, err := message.NewCoder(message.EncodingJSON)
	assert.NoError(t, err, "Not expecting coder construction to fail")
	var buf bytes.Buffer
	return NewEncoder(&buf, coder), &buf
}

func TestWriteMessagePlain(t *testing.T) {
	enc, buf := newTestEncoder(t)

	err := enc.WriteMessage(&message.Message{Body: &message.Ping{}})
	assert.NoError(t, err, "Not expecting write to fail")
	assert.Equal(t, "{\"type\":\"ping\"}\n", buf.String(), "Unexpected frame")
}

func TestWriteMessageSigned(t *testing.T) {
	enc, buf := newTestEncoder(t)

	err := enc.WriteMessage(&message.Message{Body: &message.Ping{}, Signature: []byte("SIGBYTES")})
	assert.NoError(t, err, "Not expecting write to fail")
	assert.Equal(t, "${\"type\":\"ping\"}\nSIGBYTES\n", buf.String(), "Unexpected frame")
}

func TestWriteMessagePayloadPrefixes(t *testing.T) {
	enc, buf := newTestEncoder(t)

	err := enc.WriteMessage(&message.Message{Body: &message.FileData{Path: "f"}, HasPayload: true})
	assert.NoError(t, err, "Not expecting write to fail")
	assert.Equal(t, byte('!'), buf.Bytes()[0], "Expect payload prefix")

	buf.Reset()
	err = enc.WriteMessage(&message.Message{
		Body: &message.FileData{Path: "f"}, HasPayload: true, Signature: []byte("S")})
	assert.NoError(t, err, "Not expecting write to fail")
	assert.Equal(t, byte('&'), buf.Bytes()[0], "Expect signed payload prefix")
}

func TestWriteMessageRejectsNewlineSignature(t *testing.T) {
	enc, _ := newTestEncoder(t)

	err := enc.WriteMessage(&message.Message{Body: &message.Ping{}, Signature: []byte("bad\nsig")})
	assert.Error(t, err, "Expect newline in signature to be rejected")
}

func TestWritePayloadChunking(t *testing.T) {
	enc, buf := newTestEncoder(t)
	enc.MaxChunkSize = 4

	err := enc.WritePayload([]byte("HELLOWORLD"))
	assert.NoError(t, err, "Not expecting write to fail")
	err = enc.EndPayload()
	assert.NoError(t, err, "Not expecting write to fail")

	assert.Equal(t, "4\nHELL4\nOWOR2\nLD0\n", buf.String(), "Unexpected chunked output")
}

func TestEncoderRoundTrip(t *testing.T) {
	enc, buf := newTestEncoder(t)

	err := enc.WriteMessage(&message.Message{Body: &message.Get{Path: "a/b"}, HasPayload: true})
	assert.NoError(t, err, "Not expecting write to fail")
	assert.NoError(t, enc.WritePayload([]byte("content")), "Not expecting write to fail")
	assert.NoError(t, enc.EndPayload(), "Not expecting write to fail")
	err = enc.WriteMessage(&message.Message{Body: &message.Ping{}, Signature: []byte("SIG")})
	assert.NoError(t, err, "Not expecting write to fail")

	coder, err := message.NewCoder(message.EncodingJSON)
	assert.NoError(t, err, "Not expecting coder construction to fail")
	rec := &recorder{}
	ps := NewProtocolState(rec, coder, nil)
	ps.Input(buf.Bytes())

	assert.Equal(t, []string{"msg:get", "payload:content", "payload_end", "msg:ping"},
		rec.events, "Unexpected events")
	assert.Equal(t, "SIG", string(rec.msgs[1].Signature), "Unexpected signature")
}

type failingWriter struct {
	failAfter int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.failAfter <= 0 {
		return 0, errors.New("failed")
	}
	w.failAfter--
	return len(p), nil
}

func TestEncoderWriteFailures(t *testing.T) {
	coder, err := message.NewCoder(message.EncodingJSON)
	assert.NoError(t, err, "Not expecting coder construction to fail")

	enc := NewEncoder(&failingWriter{}, coder)
	err = enc.WriteMessage(&message.Message{Body: &message.Ping{}})
	assert.Error(t, err, "Expect failure")

	// failure on the chunk data write, after the header succeeded
	enc = NewEncoder(&failingWriter{failAfter: 1}, coder)
	err = enc.WritePayload([]byte("data"))
	assert.Error(t, err, "Expect failure")

	enc = NewEncoder(&failingWriter{}, coder)
	assert.Error(t, enc.EndPayload(), "Expect failure")
}
