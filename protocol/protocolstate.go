package protocol

import (
	"github.com/imdario/mergo"

	"github.com/clearskies/core/message"
)

// The protocol driver turns an arbitrarily split byte stream into an
// ordered sequence of message and payload events.

// Handler receives the framed events produced by a ProtocolState. For a
// frame that carries a payload, HandleMessage precedes its HandlePayload
// calls, which precede HandlePayloadEnd.
type Handler interface {
	// HandleMessage is called when a frame has been decoded.
	HandleMessage(m *message.Message)

	// HandlePayload is called with each non-empty payload chunk. The chunk
	// aliases the input buffer and is valid only for the duration of the
	// call; copy it to retain it.
	HandlePayload(chunk []byte)

	// HandlePayloadEnd is called when the zero-sized terminator chunk of a
	// payload stream arrives.
	HandlePayloadEnd()

	// HandleMessageGarbage is called when the frame scanner or the coder
	// rejects input. The buffer snapshot is valid only during the call.
	HandleMessageGarbage(buff []byte)

	// HandlePayloadGarbage is called when the chunk reader rejects input.
	// The buffer snapshot is valid only during the call.
	HandlePayloadGarbage(buff []byte)
}

// Config defines properties that configure protocol driver behaviour.
type Config struct {
	// Initial capacity of the input buffer. The buffer grows as needed;
	// bounding it is the caller's policy.
	InputBufferSize int
}

var DefaultConfig = &Config{
	InputBufferSize: 4096,
}

// ProtocolState is the per-connection protocol state machine. It owns the
// input buffer and alternates between frame mode and payload mode, invoking
// the Handler as units complete. A ProtocolState is not safe for concurrent
// use and must be confined to a single goroutine; independent peers get
// independent instances.
type ProtocolState struct {
	handler Handler
	coder   *message.Coder

	buff        []byte
	readPayload bool
	pl          payloadFound
}

// NewProtocolState delivers a driver dispatching to handler, decoding
// bodies with coder. A nil cfg selects DefaultConfig; unset fields are
// defaulted.
func NewProtocolState(handler Handler, coder *message.Coder, cfg *Config) *ProtocolState {
	resolved := Config{}
	if cfg != nil {
		resolved = *cfg
	}
	_ = mergo.Merge(&resolved, DefaultConfig)

	return &ProtocolState{
		handler: handler,
		coder:   coder,
		buff:    make([]byte, 0, resolved.InputBufferSize),
	}
}

// Input appends data to the input buffer and runs the state machine to
// quiescence. All resulting handler calls fire synchronously, in stream
// order, before Input returns; it never blocks on I/O. Coder failures are
// reported as message garbage and do not terminate the driver.
func (p *ProtocolState) Input(data []byte) {
	p.buff = append(p.buff, data...)
	for {
		if !p.readPayload {
			if !p.inputMessage() {
				return
			}
		} else {
			if !p.inputPayload() {
				return
			}
		}
	}
}

// inputMessage runs one frame-mode step. It reports whether any bytes were
// consumed, i.e. whether the loop should continue.
func (p *ProtocolState) inputMessage() bool {
	found := findMessage(p.buff)
	switch {
	case found.found:
		// the signature outlives the callback as part of the message, so it
		// must not alias the input buffer
		var sig []byte
		if len(found.signature) > 0 {
			sig = append(sig, found.signature...)
		}
		msg, err := p.coder.DecodeMsg(hasPayload(found.prefix), found.body, sig)
		if err != nil {
			// the frame is already consumed, so processing continues with
			// the next bytes
			p.handler.HandleMessageGarbage(p.buff)
			break
		}
		p.handler.HandleMessage(msg)
		if msg.HasPayload {
			p.readPayload = true
		}
	case found.garbage:
		p.handler.HandleMessageGarbage(p.buff)
	}

	if found.end == 0 {
		// incomplete frame, wait for more input
		return false
	}
	p.trim(found.end)
	return true
}

// inputPayload runs one payload-mode step. It reports whether any bytes
// were consumed.
func (p *ProtocolState) inputPayload() bool {
	if !p.pl.found && !p.pl.garbage {
		p.pl = findPayload(p.buff)
	}

	switch {
	case p.pl.found && len(p.buff) >= p.pl.totalSize():
		if p.pl.dataSz != 0 {
			p.handler.HandlePayload(p.buff[p.pl.sizeNlSz:p.pl.totalSize()])
		} else {
			p.handler.HandlePayloadEnd()
			p.readPayload = false
		}
		p.trim(p.pl.totalSize())
		p.pl.reset()
		return true

	case p.pl.garbage:
		p.handler.HandlePayloadGarbage(p.buff)
		p.trim(p.pl.totalSize())
		p.readPayload = false
		p.pl.reset()
		return true

	default:
		// waiting for the rest of the chunk
		return false
	}
}

// trim drops the first n consumed bytes, shifting the unprocessed suffix
// left so the storage is reused.
func (p *ProtocolState) trim(n int) {
	if n <= 0 {
		return
	}
	m := copy(p.buff, p.buff[n:])
	p.buff = p.buff[:m]
}
