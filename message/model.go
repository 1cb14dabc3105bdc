package message

// Defines structs representing the clearskies protocol messages.

// Kind identifies a protocol message variant. It is carried on the wire
// as the "type" discriminator field of the message body.
type Kind string

// The closed set of message kinds.
const (
	KindPing            Kind = "ping"
	KindGreeting        Kind = "greeting"
	KindStart           Kind = "start"
	KindCannotStart     Kind = "cannot_start"
	KindIdentity        Kind = "identity"
	KindGetManifest     Kind = "get_manifest"
	KindManifestCurrent Kind = "manifest_current"
	KindManifest        Kind = "manifest"
	KindGet             Kind = "get"
	KindFileData        Kind = "file_data"
	KindUpdate          Kind = "update"
	KindMove            Kind = "move"
)

// Body is implemented by all message variants.
type Body interface {
	Kind() Kind
}

// Message is one decoded frame: a typed body plus the frame metadata the
// scanner derived from the prefix. The signature bytes are opaque here;
// verification is performed by an external collaborator.
type Message struct {
	Body       Body
	HasPayload bool
	Signature  []byte
}

// Kind delivers the kind of the message body.
func (m *Message) Kind() Kind {
	return m.Body.Kind()
}

// Ping is a keepalive, requesting that the peer respond within Timeout seconds.
type Ping struct {
	Timeout int `json:"timeout,omitempty"`
}

// Greeting announces the software and the protocol versions a peer speaks,
// sent by each side when a connection is established.
type Greeting struct {
	Software string   `json:"software"`
	Protocol []int    `json:"protocol"`
	Features []string `json:"features,omitempty"`
}

// Start requests that a connection be bound to a share, selecting the
// protocol version and presenting the access credential.
type Start struct {
	Software string   `json:"software"`
	Protocol int      `json:"protocol"`
	Features []string `json:"features,omitempty"`
	ShareID  string   `json:"id"`
	Access   string   `json:"access"`
	PeerID   string   `json:"peer"`
}

// CannotStart rejects a Start request.
type CannotStart struct{}

// Identity introduces a peer after a successful start.
type Identity struct {
	Name string `json:"name"`
	Time int64  `json:"time"`
}

// GetManifest requests the peer's file manifest. When Revision matches the
// peer's current revision the peer answers with ManifestCurrent instead.
type GetManifest struct {
	Revision int64 `json:"revision,omitempty"`
}

// ManifestCurrent tells the requesting peer that its manifest revision is
// already current.
type ManifestCurrent struct{}

// FileInfo is the manifest entry for a single file.
type FileInfo struct {
	Path    string `json:"path"`
	Mtime   string `json:"mtime"`
	Size    int64  `json:"size"`
	Mode    uint32 `json:"mode"`
	Sha256  string `json:"sha256,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Manifest is the full listing of a peer's files at a revision.
type Manifest struct {
	PeerID   string     `json:"peer"`
	Revision int64      `json:"revision"`
	Files    []FileInfo `json:"files"`
}

// Get requests the content of a single file.
type Get struct {
	Path string `json:"path"`
}

// FileData announces the content of a file; the bytes follow the frame as a
// chunked payload stream.
type FileData struct {
	Path string `json:"path"`
}

// Update notifies the peer that a file changed.
type Update struct {
	Revision int64    `json:"revision"`
	File     FileInfo `json:"file"`
}

// Move notifies the peer that a file was renamed.
type Move struct {
	Revision    int64  `json:"revision"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Kind implementations for the message variants.

func (*Ping) Kind() Kind            { return KindPing }
func (*Greeting) Kind() Kind        { return KindGreeting }
func (*Start) Kind() Kind           { return KindStart }
func (*CannotStart) Kind() Kind     { return KindCannotStart }
func (*Identity) Kind() Kind        { return KindIdentity }
func (*GetManifest) Kind() Kind     { return KindGetManifest }
func (*ManifestCurrent) Kind() Kind { return KindManifestCurrent }
func (*Manifest) Kind() Kind        { return KindManifest }
func (*Get) Kind() Kind             { return KindGet }
func (*FileData) Kind() Kind        { return KindFileData }
func (*Update) Kind() Kind          { return KindUpdate }
func (*Move) Kind() Kind            { return KindMove }
