package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Encoding selects the wire form used by a Coder.
type Encoding uint

// Supported encodings. JSON is the only one defined by the protocol today.
const (
	EncodingJSON Encoding = iota
)

// CoderError reports a message body that could not be decoded.
type CoderError struct {
	s string
}

func (e *CoderError) Error() string {
	return e.s
}

func coderErrorf(format string, args ...interface{}) *CoderError {
	return &CoderError{s: fmt.Sprintf(format, args...)}
}

// encoding maps message bodies to and from their textual wire form.
// Implementations must produce a single-line, self-delimited object.
type encoding interface {
	decode(body []byte) (Body, error)
	encode(b Body) ([]byte, error)
}

// Coder translates between the textual body of a frame and a typed Message.
// A Coder is stateless and safe for concurrent use.
type Coder struct {
	enc encoding
}

// NewCoder delivers a Coder for the requested encoding.
func NewCoder(e Encoding) (*Coder, error) {
	switch e {
	case EncodingJSON:
		return &Coder{enc: jsonEncoding{}}, nil
	default:
		return nil, errors.Errorf("unsupported encoding %d", e)
	}
}

// DecodeMsg decodes the body of a frame into a typed Message, attaching the
// frame metadata. The signature bytes are stored verbatim.
// Returns a *CoderError when the body cannot be decoded.
func (c *Coder) DecodeMsg(hasPayload bool, body, signature []byte) (*Message, error) {
	b, err := c.enc.decode(body)
	if err != nil {
		return nil, err
	}
	return &Message{Body: b, HasPayload: hasPayload, Signature: signature}, nil
}

// EncodeMsg encodes the message body into its textual wire form, without
// framing. The result contains no newline and decodes back to an equal body.
func (c *Coder) EncodeMsg(m *Message) ([]byte, error) {
	return c.enc.encode(m.Body)
}

// jsonEncoding is the JSON rendition of the message bodies: a single-line
// object whose "type" member is the kind discriminator.
type jsonEncoding struct{}

func (jsonEncoding) decode(body []byte) (Body, error) {
	var env struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, coderErrorf("decode message: %v", err)
	}

	b, err := emptyBody(env.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, b); err != nil {
		return nil, coderErrorf("decode %s message: %v", env.Type, err)
	}
	if err := validate(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (jsonEncoding) encode(b Body) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, coderErrorf("encode %s message: %v", b.Kind(), err)
	}

	// Splice the discriminator into the marshalled object.
	var buf bytes.Buffer
	buf.Grow(len(raw) + 16)
	buf.WriteString(`{"type":"`)
	buf.WriteString(string(b.Kind()))
	buf.WriteByte('"')
	if len(raw) > 2 {
		buf.WriteByte(',')
		buf.Write(raw[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// emptyBody delivers a zero value of the variant selected by kind.
func emptyBody(kind Kind) (Body, error) {
	switch kind {
	case KindPing:
		return &Ping{}, nil
	case KindGreeting:
		return &Greeting{}, nil
	case KindStart:
		return &Start{}, nil
	case KindCannotStart:
		return &CannotStart{}, nil
	case KindIdentity:
		return &Identity{}, nil
	case KindGetManifest:
		return &GetManifest{}, nil
	case KindManifestCurrent:
		return &ManifestCurrent{}, nil
	case KindManifest:
		return &Manifest{}, nil
	case KindGet:
		return &Get{}, nil
	case KindFileData:
		return &FileData{}, nil
	case KindUpdate:
		return &Update{}, nil
	case KindMove:
		return &Move{}, nil
	case "":
		return nil, coderErrorf("message has no type")
	default:
		return nil, coderErrorf("unknown message type %q", kind)
	}
}

// validate checks the required fields of a decoded body.
func validate(b Body) error {
	switch m := b.(type) {
	case *Get:
		if m.Path == "" {
			return coderErrorf("get: missing path")
		}
	case *FileData:
		if m.Path == "" {
			return coderErrorf("file_data: missing path")
		}
	case *Move:
		if m.Source == "" || m.Destination == "" {
			return coderErrorf("move: missing source or destination")
		}
	case *Update:
		if m.File.Path == "" {
			return coderErrorf("update: missing file path")
		}
	case *Start:
		if m.ShareID == "" || m.Access == "" {
			return coderErrorf("start: missing share id or access")
		}
	case *Greeting:
		if m.Software == "" {
			return coderErrorf("greeting: missing software")
		}
	}
	return nil
}
