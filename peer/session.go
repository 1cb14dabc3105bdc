package peer

import (
	"context"
	"encoding/hex"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/clearskies/core/message"
	"github.com/clearskies/core/protocol"
	"github.com/clearskies/core/share"
)

// The session layer binds a transport, the protocol driver and a share
// store into a conversing peer.

// Session represents a clearskies peer session.
type Session interface {
	// Fetch retrieves the content of the named file from the remote peer.
	Fetch(path string) ([]byte, error)

	// Manifest retrieves the remote peer's file manifest. If revision is
	// already current on the remote side, it returns (nil, nil).
	Manifest(revision int64) (*message.Manifest, error)

	// Ping sends a keepalive to the remote peer.
	Ping() error

	// NotifyUpdate tells the remote peer that a file changed.
	NotifyUpdate(revision int64, file message.FileInfo) error

	// NotifyMove tells the remote peer that a file was renamed.
	NotifyMove(revision int64, source, destination string) error

	// PeerGreeting delivers the greeting received from the remote peer.
	PeerGreeting() *message.Greeting

	// ID delivers the local peer id.
	ID() string

	// Close closes the session and releases any associated resources.
	// When the session is closed, any outstanding requests fail with
	// io.ErrUnexpectedEOF.
	Close()
}

// reply pairs a response message with its assembled payload, if any.
type reply struct {
	msg     *message.Message
	payload []byte
}

type sesImpl struct {
	cfg   *Config
	t     Transport
	enc   *protocol.Encoder
	ps    *protocol.ProtocolState
	trace *ClientTrace
	shr   *share.Share

	id     string
	target string

	greetchan chan bool
	greeted   bool
	greeting  *message.Greeting

	pool      []chan *reply
	responseq []chan *reply

	reqLock   sync.Mutex
	sendLock  sync.Mutex
	pchLock   sync.Mutex
	rchLock   sync.Mutex

	// incoming payload stream being assembled
	pending *reply

	garbageCount uint64
}

const readBufferSize = 4096

// NewSession creates a new peer session over the supplied Transport,
// serving and updating sh. sh may be nil for a session without a local
// share.
func NewSession(ctx context.Context, t Transport, sh *share.Share, cfg *Config) (Session, error) {
	resolved := Config{}
	if cfg != nil {
		resolved = *cfg
	}
	_ = mergeConfig(&resolved)

	coder, err := message.NewCoder(message.EncodingJSON)
	if err != nil {
		return nil, err
	}

	si := &sesImpl{
		cfg:   &resolved,
		t:     t,
		enc:   protocol.NewEncoder(t, coder),
		trace: ContextClientTrace(ctx),
		shr:   sh,
		id:    uuid.NewString(),

		greetchan: make(chan bool),
	}
	if sh != nil {
		si.id = sh.PeerID()
	}
	if ti, ok := t.(*tImpl); ok {
		si.target = ti.target
	}
	si.ps = protocol.NewProtocolState(si, coder, nil)

	// The read loop must run before the greeting is written, so that a
	// peer doing the same over an unbuffered connection cannot deadlock.
	go si.handleIncomingData()

	if err := si.send(&message.Message{Body: si.localGreeting()}); err != nil {
		si.trace.Error("Failed to send greeting", si.target, err)
		si.Close()
		return nil, err
	}

	if err := si.waitForPeerGreeting(); err != nil {
		si.trace.Error("Failed to receive greeting", si.target, err)
		si.Close()
		return nil, err
	}
	return si, nil
}

func (si *sesImpl) Fetch(path string) (content []byte, err error) {
	si.trace.RequestStart(message.KindGet)
	defer func(begin time.Time) {
		si.trace.RequestDone(message.KindGet, err, time.Since(begin))
	}(time.Now())

	r, err := si.request(&message.Message{Body: &message.Get{Path: path}})
	if err != nil {
		return nil, err
	}
	if _, ok := r.msg.Body.(*message.FileData); !ok {
		return nil, errors.Errorf("unexpected %s response to get", r.msg.Kind())
	}
	return r.payload, nil
}

func (si *sesImpl) Manifest(revision int64) (m *message.Manifest, err error) {
	si.trace.RequestStart(message.KindGetManifest)
	defer func(begin time.Time) {
		si.trace.RequestDone(message.KindGetManifest, err, time.Since(begin))
	}(time.Now())

	r, err := si.request(&message.Message{Body: &message.GetManifest{Revision: revision}})
	if err != nil {
		return nil, err
	}
	switch b := r.msg.Body.(type) {
	case *message.Manifest:
		return b, nil
	case *message.ManifestCurrent:
		return nil, nil
	default:
		return nil, errors.Errorf("unexpected %s response to get_manifest", r.msg.Kind())
	}
}

func (si *sesImpl) Ping() error {
	return si.send(&message.Message{Body: &message.Ping{Timeout: si.cfg.SetupTimeoutSecs}})
}

func (si *sesImpl) NotifyUpdate(revision int64, file message.FileInfo) error {
	return si.send(&message.Message{Body: &message.Update{Revision: revision, File: file}})
}

func (si *sesImpl) NotifyMove(revision int64, source, destination string) error {
	return si.send(&message.Message{Body: &message.Move{Revision: revision, Source: source, Destination: destination}})
}

func (si *sesImpl) PeerGreeting() *message.Greeting {
	return si.greeting
}

func (si *sesImpl) ID() string {
	return si.id
}

func (si *sesImpl) Close() {
	if err := si.t.Close(); err != nil {
		si.trace.Error("Session close failed", si.target, err)
	}
}

func (si *sesImpl) localGreeting() *message.Greeting {
	return &message.Greeting{
		Software: si.cfg.Software,
		Protocol: si.cfg.ProtocolVersions,
	}
}

func (si *sesImpl) waitForPeerGreeting() (err error) {
	select {
	case ok := <-si.greetchan:
		if !ok {
			err = errors.New("session closed before greeting")
		}
	case <-time.After(time.Duration(si.cfg.SetupTimeoutSecs) * time.Second):
		err = errors.New("failed to get greeting from peer")
	}
	return
}

// handleIncomingData is the session read loop: it feeds transport bytes to
// the protocol driver, which dispatches back into the Handle* methods on
// this goroutine.
func (si *sesImpl) handleIncomingData() {
	// When this goroutine finishes, make sure anybody waiting for a
	// response gets informed.
	defer si.closeChannels()

	buf := make([]byte, readBufferSize)
	for {
		n, err := si.t.Read(buf)
		if n > 0 {
			si.ps.Input(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// HandleMessage implements protocol.Handler.
func (si *sesImpl) HandleMessage(m *message.Message) {
	si.trace.MessageReceived(m.Kind())

	if m.HasPayload {
		// The payload chunks belong to this message; deliver once the
		// stream terminates.
		si.pending = &reply{msg: m}
		return
	}

	switch b := m.Body.(type) {
	case *message.Greeting:
		si.handleGreeting(b)
	case *message.Ping:
		// keepalive only
	case *message.Start:
		si.handleStart(b)
	case *message.GetManifest:
		si.serveManifest(b)
	case *message.Get:
		si.serveGet(b)
	case *message.Update:
		si.applyUpdate(b)
	case *message.Move:
		si.applyMove(b)
	default:
		// a response to an outstanding request
		si.deliverReply(&reply{msg: m})
	}
}

// HandlePayload implements protocol.Handler. The chunk is only valid for
// the duration of the call, so it is copied here.
func (si *sesImpl) HandlePayload(chunk []byte) {
	si.trace.PayloadChunkReceived(len(chunk))
	if si.pending != nil {
		si.pending.payload = append(si.pending.payload, chunk...)
	}
}

// HandlePayloadEnd implements protocol.Handler.
func (si *sesImpl) HandlePayloadEnd() {
	if si.pending == nil {
		return
	}
	r := si.pending
	si.pending = nil
	si.deliverReply(r)
}

// HandleMessageGarbage implements protocol.Handler.
func (si *sesImpl) HandleMessageGarbage(buff []byte) {
	si.handleGarbage(false)
}

// HandlePayloadGarbage implements protocol.Handler.
func (si *sesImpl) HandlePayloadGarbage(buff []byte) {
	// the driver abandons the payload stream; so does the session
	si.pending = nil
	si.handleGarbage(true)
}

func (si *sesImpl) handleGarbage(payload bool) {
	si.trace.GarbageReceived(si.target, payload)
	if atomic.AddUint64(&si.garbageCount, 1) > uint64(si.cfg.MaxGarbageEvents) {
		si.trace.Error("Too many garbage events", si.target, errors.New("disconnecting"))
		si.Close()
	}
}

func (si *sesImpl) handleGreeting(g *message.Greeting) {
	si.greeting = g
	si.trace.GreetingDone(g)
	if !si.greeted {
		si.greeted = true
		si.greetchan <- true
	}
}

func (si *sesImpl) handleStart(st *message.Start) {
	if si.shr == nil || si.shr.Keys() == nil ||
		st.ShareID != hex.EncodeToString(si.shr.Keys().ShareID[:]) {
		si.sendAndTrace(&message.Message{Body: &message.CannotStart{}})
		return
	}
	si.sendAndTrace(&message.Message{Body: &message.Identity{Name: si.id, Time: time.Now().Unix()}})
}

func (si *sesImpl) serveManifest(gm *message.GetManifest) {
	if si.shr == nil || (gm.Revision != 0 && gm.Revision == si.shr.Revision()) {
		si.sendAndTrace(&message.Message{Body: &message.ManifestCurrent{}})
		return
	}

	files, err := si.shr.Files()
	if err != nil {
		si.trace.Error("Manifest build failed", si.target, err)
		si.sendAndTrace(&message.Message{Body: &message.ManifestCurrent{}})
		return
	}

	m := &message.Manifest{PeerID: si.id, Revision: si.shr.Revision()}
	for i := range files {
		m.Files = append(m.Files, fileInfo(&files[i]))
	}
	si.sendAndTrace(&message.Message{Body: m})
}

func (si *sesImpl) serveGet(g *message.Get) {
	var content []byte
	if si.shr != nil {
		var err error
		if content, err = si.shr.ReadFile(g.Path); err != nil {
			// There is no error message at this layer; an empty payload
			// stream tells the requester the content was unavailable.
			si.trace.Error("Get failed", si.target, err)
			content = nil
		}
	}
	fd := &message.Message{Body: &message.FileData{Path: g.Path}, HasPayload: true}
	if err := si.sendWithPayload(fd, content); err != nil {
		si.trace.Error("Failed to send file data", si.target, err)
	}
}

func (si *sesImpl) applyUpdate(u *message.Update) {
	if si.shr == nil {
		return
	}
	if err := si.shr.UpdateMFile(mFile(&u.File)); err != nil {
		si.trace.Error("Update failed", si.target, err)
	}
}

func (si *sesImpl) applyMove(mv *message.Move) {
	if si.shr == nil {
		return
	}
	if err := si.shr.MoveMFile(mv.Source, mv.Destination); err != nil {
		si.trace.Error("Move failed", si.target, err)
	}
}

func (si *sesImpl) deliverReply(r *reply) {
	respch := si.popRespChan()
	if respch == nil {
		si.trace.Error("Unexpected response", si.target, errors.Errorf("kind %s", r.msg.Kind()))
		return
	}
	go func(ch chan *reply, r *reply) {
		ch <- r
	}(respch, r)
}

// request submits a one-shot request and waits for the ordered response.
func (si *sesImpl) request(m *message.Message) (*reply, error) {
	// Allocate a response channel
	rchan := si.allocChan()
	defer si.relChan(rchan)

	// Lock the request channel, so the request and response channel set up
	// is atomic.
	si.reqLock.Lock()
	si.pushRespChan(rchan)
	err := si.send(m)
	if err != nil {
		si.popRespChan()
	}
	si.reqLock.Unlock()
	if err != nil {
		return nil, err
	}

	// Wait for the response.
	r := <-rchan
	if r == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return r, nil
}

func (si *sesImpl) send(m *message.Message) (err error) {
	si.sendLock.Lock()
	defer si.sendLock.Unlock()
	defer func() { si.trace.MessageSent(m.Kind(), err) }()
	return si.enc.WriteMessage(m)
}

// sendWithPayload writes a payload-bearing message and its chunked content
// atomically with respect to other writers.
func (si *sesImpl) sendWithPayload(m *message.Message, content []byte) (err error) {
	si.sendLock.Lock()
	defer si.sendLock.Unlock()
	defer func() { si.trace.MessageSent(m.Kind(), err) }()

	if err = si.enc.WriteMessage(m); err != nil {
		return err
	}
	if len(content) > 0 {
		if err = si.enc.WritePayload(content); err != nil {
			return err
		}
	}
	return si.enc.EndPayload()
}

func (si *sesImpl) sendAndTrace(m *message.Message) {
	if err := si.send(m); err != nil {
		si.trace.Error("Failed to send message", si.target, err)
	}
}

func (si *sesImpl) closeChannels() {
	close(si.greetchan)
	si.closeAllResponseChannels()
}

func (si *sesImpl) closeAllResponseChannels() {
	for {
		if ch := si.popRespChan(); ch != nil {
			close(ch)
		} else {
			return
		}
	}
}

func (si *sesImpl) allocChan() (ch chan *reply) {
	si.pchLock.Lock()
	defer si.pchLock.Unlock()

	l := len(si.pool)
	if l == 0 {
		return make(chan *reply)
	}

	si.pool, ch = si.pool[:l-1], si.pool[l-1]
	return
}

func (si *sesImpl) relChan(ch chan *reply) {
	si.pchLock.Lock()
	defer si.pchLock.Unlock()
	si.pool = append(si.pool, ch)
}

func (si *sesImpl) pushRespChan(ch chan *reply) {
	si.rchLock.Lock()
	defer si.rchLock.Unlock()
	si.responseq = append(si.responseq, ch)
}

func (si *sesImpl) popRespChan() (ch chan *reply) {
	si.rchLock.Lock()
	defer si.rchLock.Unlock()
	if len(si.responseq) > 0 {
		si.responseq, ch = si.responseq[1:], si.responseq[0]
	}
	return
}

func fileInfo(f *share.MFile) message.FileInfo {
	return message.FileInfo{
		Path:    f.Path,
		Mtime:   f.Mtime,
		Size:    f.Size,
		Mode:    f.Mode,
		Sha256:  f.Sha256,
		Deleted: f.Deleted,
	}
}

func mFile(f *message.FileInfo) share.MFile {
	return share.MFile{
		Path:    f.Path,
		Mtime:   f.Mtime,
		Size:    f.Size,
		Mode:    f.Mode,
		Sha256:  f.Sha256,
		Deleted: f.Deleted,
	}
}
