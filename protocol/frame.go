package protocol

import "bytes"

// Frame prefix bytes. A prefix encodes two independent flags: whether a
// detached signature line follows the body, and whether a chunked payload
// stream follows the frame. No prefix means neither.
const (
	prefixSigned        byte = '$'
	prefixPayload       byte = '!'
	prefixSignedPayload byte = '&'
)

func hasSignature(c byte) bool {
	return c == prefixSigned || c == prefixSignedPayload
}

func hasPayload(c byte) bool {
	return c == prefixPayload || c == prefixSignedPayload
}

func validPrefix(c byte) bool {
	return c == prefixSigned || c == prefixPayload || c == prefixSignedPayload
}

// msgFound is the outcome of scanning the input buffer for one frame.
// At most one of found and garbage is set; when neither is set the frame is
// incomplete and more input is needed. end is the index one past the last
// byte consumed by this scan, zero when nothing was consumed. body and
// signature alias the scanned buffer.
type msgFound struct {
	found     bool
	garbage   bool
	prefix    byte
	body      []byte
	signature []byte
	end       int
}

// findMessage locates the next frame boundary in buff. The scanner decides
// framing from the first two bytes and the newline terminators only; body
// content is the coder's concern. On garbage, end points past the next
// newline so that a lost synchronization costs at most one line.
func findMessage(buff []byte) msgFound {
	var res msgFound

	nl1 := bytes.IndexByte(buff, '\n')
	if nl1 < 0 {
		return res
	}

	// minimum frame: {}\n
	if len(buff) < 3 {
		res.garbage = true
		res.end = nl1 + 1
		return res
	}

	switch {
	case buff[0] == '{':
		res.body = buff[:nl1]
		res.end = nl1 + 1

	case validPrefix(buff[0]) && buff[1] == '{':
		res.prefix = buff[0]
		res.body = buff[1:nl1]
		if !hasSignature(res.prefix) {
			res.end = nl1 + 1
			break
		}
		nl2 := bytes.IndexByte(buff[nl1+1:], '\n')
		if nl2 < 0 {
			// accumulate more until we also have the signature line
			return res
		}
		res.signature = buff[nl1+1 : nl1+1+nl2]
		res.end = nl1 + 1 + nl2 + 1

	default:
		res.garbage = true
		res.end = nl1 + 1
		return res
	}

	res.found = true
	return res
}
