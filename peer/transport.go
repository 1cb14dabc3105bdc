package peer

import (
	"context"
	"io"
	"net"
	"time"
)

// The transport layer provides a communication path between two peers.
// The clearskies protocol can be layered over any transport that provides
// an ordered byte stream; plain TCP is provided here.

// Transport interface defines what characteristics make up a clearskies
// transport layer object.
type Transport interface {
	io.ReadWriteCloser
}

type tImpl struct {
	conn   net.Conn
	reader io.Reader
	writer io.Writer
	trace  *ClientTrace
	target string
	dialer DialerFactory
}

// DialerFactory defines a factory that provides the network connection a
// transport runs over.
type DialerFactory interface {
	Dial(ctx context.Context) (net.Conn, error)
	// Close will close the connection (assumed to have been returned by an
	// earlier call to the Dial method), if appropriate.
	Close(net.Conn) error
}

// NewTransport creates a new transport, connecting to the target with the
// supplied dialer.
func NewTransport(ctx context.Context, dialer DialerFactory, target string) (rt Transport, err error) {
	impl := tImpl{target: target, dialer: dialer}
	impl.trace = ContextClientTrace(ctx)

	impl.trace.ConnectStart(target)

	defer func(begin time.Time) {
		impl.trace.ConnectDone(target, err, time.Since(begin))
	}(time.Now())

	impl.conn, err = dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	impl.reader = impl.conn
	impl.writer = impl.conn
	impl.injectTraceReader()
	impl.injectTraceWriter()

	rt = &impl
	return rt, err
}

// NewTransportFromConn wraps an already established connection, for
// sessions accepted rather than dialled.
func NewTransportFromConn(ctx context.Context, conn net.Conn) Transport {
	impl := &tImpl{conn: conn, target: remoteAddr(conn)}
	impl.trace = ContextClientTrace(ctx)
	impl.reader = conn
	impl.writer = conn
	impl.injectTraceReader()
	impl.injectTraceWriter()
	return impl
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (t *tImpl) Read(p []byte) (n int, err error) {
	return t.reader.Read(p)
}

func (t *tImpl) Write(p []byte) (n int, err error) {
	return t.writer.Write(p)
}

// Close closes the underlying connection, using the dialer when one was
// used to establish it.
func (t *tImpl) Close() (err error) {
	defer func() { t.trace.ConnectionClosed(t.target, err) }()

	if t.dialer != nil {
		return t.dialer.Close(t.conn)
	}
	return t.conn.Close()
}

// NewDialer delivers a DialerFactory that dials target over TCP.
func NewDialer(target string) *RealDialer { //nolint:golint
	return &RealDialer{target: target}
}

type RealDialer struct {
	target string
}

func (rd *RealDialer) Dial(ctx context.Context) (conn net.Conn, err error) {
	tracer := ContextClientTrace(ctx)

	tracer.DialStart(rd.target)
	defer func(begin time.Time) {
		tracer.DialDone(rd.target, err, time.Since(begin))
	}(time.Now())

	var d net.Dialer
	return d.DialContext(ctx, "tcp", rd.target)
}

func (rd *RealDialer) Close(conn net.Conn) (err error) {
	if conn != nil {
		err = conn.Close()
	}
	return err
}

type traceReader struct {
	r     io.Reader
	trace *ClientTrace
}

func (t *tImpl) injectTraceReader() {
	t.reader = &traceReader{r: t.reader, trace: t.trace}
}

func (tr *traceReader) Read(p []byte) (c int, err error) {
	tr.trace.ReadStart(p)
	defer func(begin time.Time) {
		tr.trace.ReadDone(p, c, err, time.Since(begin))
	}(time.Now())

	c, err = tr.r.Read(p)

	return
}

type traceWriter struct {
	w     io.Writer
	trace *ClientTrace
}

func (t *tImpl) injectTraceWriter() {
	t.writer = &traceWriter{w: t.writer, trace: t.trace}
}

func (tw *traceWriter) Write(p []byte) (c int, err error) {
	tw.trace.WriteStart(p)
	defer func(begin time.Time) {
		tw.trace.WriteDone(p, c, err, time.Since(begin))
	}(time.Now())

	c, err = tw.w.Write(p)

	return
}
