package peer

import (
	"context"
	"log"
	"time"

	"github.com/imdario/mergo"

	"github.com/clearskies/core/message"
)

// unique type to prevent assignment.
type clientEventContextKey struct{}

// ContextClientTrace returns the Trace associated with the
// provided context. If none, it returns the no-op hooks.
func ContextClientTrace(ctx context.Context) *ClientTrace {
	trace, _ := ctx.Value(clientEventContextKey{}).(*ClientTrace)
	if trace == nil {
		trace = NoOpLoggingHooks
	} else {
		_ = mergo.Merge(trace, NoOpLoggingHooks)
	}
	return trace
}

// WithClientTrace returns a new context based on the provided parent
// ctx. Peer sessions established with the returned context will use
// the provided trace hooks.
func WithClientTrace(ctx context.Context, trace *ClientTrace) context.Context {
	ctx = context.WithValue(ctx, clientEventContextKey{}, trace)
	return ctx
}

// ClientTrace defines a structure for handling trace events.
//
//nolint:golint
type ClientTrace struct {
	// ConnectStart is called when starting to create a connection to a remote peer.
	ConnectStart func(target string)

	// ConnectDone is called when the transport connection attempt completes, with err indicating
	// whether it was successful.
	ConnectDone func(target string, err error, d time.Duration)

	// DialStart is called when starting to dial a remote peer.
	DialStart func(target string)

	// DialDone is called when dial completes.
	DialDone func(target string, err error, d time.Duration)

	// GreetingDone is called when the greeting message has been received from the peer.
	GreetingDone func(m *message.Greeting)

	// ConnectionClosed is called after a transport connection has been closed, with
	// err indicating any error condition.
	ConnectionClosed func(target string, err error)

	// ReadStart is called before a read from the underlying transport.
	ReadStart func(buf []byte)

	// ReadDone is called after a read from the underlying transport.
	ReadDone func(buf []byte, c int, err error, d time.Duration)

	// WriteStart is called before a write to the underlying transport.
	WriteStart func(buf []byte)

	// WriteDone is called after a write to the underlying transport.
	WriteDone func(buf []byte, c int, err error, d time.Duration)

	// Error is called after an error condition has been detected.
	Error func(context, target string, err error)

	// MessageReceived is called when a message has been decoded from the peer.
	MessageReceived func(kind message.Kind)

	// MessageSent is called after a message has been written to the peer.
	MessageSent func(kind message.Kind, err error)

	// PayloadChunkReceived is called for each payload chunk received.
	PayloadChunkReceived func(size int)

	// GarbageReceived is called when the driver reports garbage input.
	GarbageReceived func(target string, payload bool)

	// RequestStart is called before a request is submitted to the peer.
	RequestStart func(kind message.Kind)

	// RequestDone is called after a request completes.
	RequestDone func(kind message.Kind, err error, d time.Duration)
}

// NoOpLoggingHooks provides hooks that do nothing.
var NoOpLoggingHooks = &ClientTrace{
	ConnectStart:         func(target string) {},
	ConnectDone:          func(target string, err error, d time.Duration) {},
	DialStart:            func(target string) {},
	DialDone:             func(target string, err error, d time.Duration) {},
	GreetingDone:         func(m *message.Greeting) {},
	ConnectionClosed:     func(target string, err error) {},
	ReadStart:            func(buf []byte) {},
	ReadDone:             func(buf []byte, c int, err error, d time.Duration) {},
	WriteStart:           func(buf []byte) {},
	WriteDone:            func(buf []byte, c int, err error, d time.Duration) {},
	Error:                func(context, target string, err error) {},
	MessageReceived:      func(kind message.Kind) {},
	MessageSent:          func(kind message.Kind, err error) {},
	PayloadChunkReceived: func(size int) {},
	GarbageReceived:      func(target string, payload bool) {},
	RequestStart:         func(kind message.Kind) {},
	RequestDone:          func(kind message.Kind, err error, d time.Duration) {},
}

// DefaultLoggingHooks provides a default logging hook to report errors.
var DefaultLoggingHooks = &ClientTrace{
	Error: func(context, target string, err error) {
		log.Printf("CS-Error context:%s target:%s err:%v\n", context, target, err)
	},
}

// MetricLoggingHooks provides a set of hooks that will log network metrics.
var MetricLoggingHooks = &ClientTrace{
	ConnectDone: func(target string, err error, d time.Duration) {
		log.Printf("CS-ConnectDone target:%s err:%v took:%dms\n", target, err, d.Milliseconds())
	},
	DialDone: func(target string, err error, d time.Duration) {
		log.Printf("CS-DialDone target:%s err:%v took:%dms\n", target, err, d.Milliseconds())
	},
	ReadDone: func(p []byte, c int, err error, d time.Duration) {
		log.Printf("CS-ReadDone len:%d err:%v took:%dms\n", c, err, d.Milliseconds())
	},
	WriteDone: func(p []byte, c int, err error, d time.Duration) {
		log.Printf("CS-WriteDone len:%d err:%v took:%dms\n", c, err, d.Milliseconds())
	},

	Error: DefaultLoggingHooks.Error,

	RequestDone: func(kind message.Kind, err error, d time.Duration) {
		log.Printf("CS-RequestDone kind:%s err:%v took:%dms\n", kind, err, d.Milliseconds())
	},
}

// DiagnosticLoggingHooks provides a set of default diagnostic hooks.
var DiagnosticLoggingHooks = &ClientTrace{
	ConnectStart: func(target string) {
		log.Printf("CS-ConnectStart target:%s\n", target)
	},
	ConnectDone: MetricLoggingHooks.ConnectDone,
	DialStart: func(target string) {
		log.Printf("CS-DialStart target:%s\n", target)
	},
	DialDone: MetricLoggingHooks.DialDone,
	GreetingDone: func(m *message.Greeting) {
		log.Printf("CS-GreetingDone software:%s protocol:%v\n", m.Software, m.Protocol)
	},
	ConnectionClosed: func(target string, err error) {
		log.Printf("CS-ConnectionClosed target:%s err:%v\n", target, err)
	},
	ReadStart: func(p []byte) {
		log.Printf("CS-ReadStart capacity:%d\n", len(p))
	},
	ReadDone: MetricLoggingHooks.ReadDone,
	WriteStart: func(p []byte) {
		log.Printf("CS-WriteStart len:%d\n", len(p))
	},
	WriteDone: MetricLoggingHooks.WriteDone,

	Error: DefaultLoggingHooks.Error,

	MessageReceived: func(kind message.Kind) {
		log.Printf("CS-MessageReceived kind:%s\n", kind)
	},
	MessageSent: func(kind message.Kind, err error) {
		log.Printf("CS-MessageSent kind:%s err:%v\n", kind, err)
	},
	PayloadChunkReceived: func(size int) {
		log.Printf("CS-PayloadChunkReceived size:%d\n", size)
	},
	GarbageReceived: func(target string, payload bool) {
		log.Printf("CS-GarbageReceived target:%s payload:%v\n", target, payload)
	},
	RequestStart: func(kind message.Kind) {
		log.Printf("CS-RequestStart kind:%s\n", kind)
	},
	RequestDone: MetricLoggingHooks.RequestDone,
}
