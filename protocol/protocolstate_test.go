package protocol

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	assert "github.com/stretchr/testify/require"

	"github.com/clearskies/core/message"
)

// recorder captures handler events in arrival order.
type recorder struct {
	events []string
	msgs   []*message.Message
}

func (r *recorder) HandleMessage(m *message.Message) {
	r.msgs = append(r.msgs, m)
	r.events = append(r.events, "msg:"+string(m.Kind()))
}

func (r *recorder) HandlePayload(chunk []byte) {
	r.events = append(r.events, "payload:"+string(chunk))
}

func (r *recorder) HandlePayloadEnd() {
	r.events = append(r.events, "payload_end")
}

func (r *recorder) HandleMessageGarbage(buff []byte) {
	r.events = append(r.events, "msg_garbage")
}

func (r *recorder) HandlePayloadGarbage(buff []byte) {
	r.events = append(r.events, "pl_garbage")
}

func newTestState(t *testing.T) (*ProtocolState, *recorder) {
	coder, err := message.NewCoder(message.EncodingJSON)
	assert.NoError(t, err, "Not expecting coder construction to fail")
	rec := &recorder{}
	return NewProtocolState(rec, coder, nil), rec
}

func TestPlainFrame(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("{\"type\":\"ping\"}\n"))

	assert.Equal(t, []string{"msg:ping"}, rec.events, "Unexpected events")
	assert.False(t, rec.msgs[0].HasPayload, "Not expecting payload flag")
	assert.Empty(t, rec.msgs[0].Signature, "Expect empty signature")
}

func TestSignedFrame(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("${\"type\":\"ping\"}\nSIGBYTES\n"))

	assert.Equal(t, []string{"msg:ping"}, rec.events, "Unexpected events")
	assert.Equal(t, "SIGBYTES", string(rec.msgs[0].Signature), "Unexpected signature")
	assert.False(t, rec.msgs[0].HasPayload, "Not expecting payload flag")
}

func TestSignedFrameEmptySignature(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("${\"type\":\"ping\"}\n\n"))

	assert.Equal(t, []string{"msg:ping"}, rec.events, "Unexpected events")
	assert.Empty(t, rec.msgs[0].Signature, "Expect empty signature")
}

func TestFrameWithPayload(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("!{\"type\":\"get\",\"path\":\"f\"}\n5\nHELLO\n0\n"))

	assert.Equal(t, []string{"msg:get", "payload:HELLO", "payload_end"}, rec.events, "Unexpected events")
	assert.True(t, rec.msgs[0].HasPayload, "Expect payload flag")
}

func TestSignedFrameWithPayload(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("&{\"type\":\"get\",\"path\":\"f\"}\nSIG\n3\nabc0\n"))

	assert.Equal(t, []string{"msg:get", "payload:abc", "payload_end"}, rec.events, "Unexpected events")
	assert.Equal(t, "SIG", string(rec.msgs[0].Signature), "Unexpected signature")
	assert.True(t, rec.msgs[0].HasPayload, "Expect payload flag")
}

func TestMultiChunkPayload(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("!{\"type\":\"get\",\"path\":\"f\"}\n3\nabc2\nde0\n{\"type\":\"ping\"}\n"))

	assert.Equal(t, []string{"msg:get", "payload:abc", "payload:de", "payload_end", "msg:ping"},
		rec.events, "Unexpected events")
}

func TestFragmentedDelivery(t *testing.T) {
	// the same bytes delivered one at a time must yield the identical
	// callback sequence
	stream := "!{\"type\":\"get\",\"path\":\"f\"}\n5\nHELLO\n0\n"

	psWhole, recWhole := newTestState(t)
	psWhole.Input([]byte(stream))

	psSplit, recSplit := newTestState(t)
	for i := 0; i < len(stream); i++ {
		psSplit.Input([]byte{stream[i]})
	}

	assert.Equal(t, recWhole.events, recSplit.events, "Expect identical callback sequences")
}

func TestSplitInvariance(t *testing.T) {
	stream := "{\"type\":\"ping\"}\n" +
		"${\"type\":\"ping\"}\nSIGBYTES\n" +
		"XYZ\n" +
		"!{\"type\":\"get\",\"path\":\"f\"}\n3\nabc0\n" +
		"{\"type\":\"manifest_current\"}\n"

	psWhole, recWhole := newTestState(t)
	psWhole.Input([]byte(stream))

	// every two-way partition of the stream
	for cut := 0; cut <= len(stream); cut++ {
		ps, rec := newTestState(t)
		ps.Input([]byte(stream[:cut]))
		ps.Input([]byte(stream[cut:]))
		assert.Equal(t, recWhole.events, rec.events, "Callback sequence differs for cut at %d", cut)
	}
}

func TestGarbageThenRecovery(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("XYZ\n{\"type\":\"ping\"}\n"))

	assert.Equal(t, []string{"msg_garbage", "msg:ping"}, rec.events, "Unexpected events")
}

func TestCoderErrorIsGarbage(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("{\"type\":\"bogus\"}\n{\"type\":\"ping\"}\n"))

	assert.Equal(t, []string{"msg_garbage", "msg:ping"}, rec.events, "Unexpected events")
}

func TestOversizeChunkExitsPayloadMode(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("!{\"type\":\"get\",\"path\":\"f\"}\n99999999\n"))

	assert.Equal(t, []string{"msg:get", "pl_garbage"}, rec.events, "Unexpected events")

	// the driver is back in frame mode
	ps.Input([]byte("{\"type\":\"ping\"}\n"))
	assert.Equal(t, []string{"msg:get", "pl_garbage", "msg:ping"}, rec.events, "Unexpected events")
}

func TestChunkSizeLineTooLong(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("!{\"type\":\"get\",\"path\":\"f\"}\n1234567890\n"))

	assert.Equal(t, []string{"msg:get", "pl_garbage"}, rec.events, "Unexpected events")
}

func TestLargestChunkAccepted(t *testing.T) {
	ps, rec := newTestState(t)
	data := bytes.Repeat([]byte{'x'}, MaxChunkSize)

	ps.Input([]byte("!{\"type\":\"get\",\"path\":\"f\"}\n16777216\n"))
	ps.Input(data)
	ps.Input([]byte("0\n"))

	assert.Equal(t, []string{"msg:get", "payload:" + string(data), "payload_end"},
		rec.events, "Unexpected events")
}

func TestBufferHoldsOnlyIncompleteSuffix(t *testing.T) {
	ps, rec := newTestState(t)
	ps.Input([]byte("{\"type\":\"ping\"}\n{\"ty"))

	assert.Equal(t, []string{"msg:ping"}, rec.events, "Unexpected events")
	assert.Equal(t, `{"ty`, string(ps.buff), "Expect only the incomplete frame to remain")

	ps.Input([]byte("pe\":\"ping\"}\n"))
	assert.Equal(t, []string{"msg:ping", "msg:ping"}, rec.events, "Unexpected events")
	assert.Empty(t, ps.buff, "Expect the buffer to be drained")
}

func TestManyFramesOneInput(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "{\"type\":\"ping\",\"timeout\":%d}\n", i)
	}

	ps, rec := newTestState(t)
	ps.Input([]byte(sb.String()))

	assert.Len(t, rec.events, 100, "Expect one event per frame")
	for i, m := range rec.msgs {
		ping, ok := m.Body.(*message.Ping)
		assert.True(t, ok, "Expect a ping body")
		assert.Equal(t, i, ping.Timeout, "Unexpected timeout value")
	}
}

func TestPayloadGarbageDoesNotLoseFollowingFrame(t *testing.T) {
	// non-numeric chunk header: the size line is discarded and the driver
	// returns to frame mode
	ps, rec := newTestState(t)
	ps.Input([]byte("!{\"type\":\"get\",\"path\":\"f\"}\nabc\n"))
	assert.Equal(t, []string{"msg:get", "pl_garbage"}, rec.events, "Unexpected events")

	ps.Input([]byte("{\"type\":\"ping\"}\n"))
	assert.Equal(t, []string{"msg:get", "pl_garbage", "msg:ping"}, rec.events, "Unexpected events")
}
