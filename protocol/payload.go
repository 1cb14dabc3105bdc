package protocol

import "bytes"

const (
	// MaxChunkSize is the largest payload chunk the protocol accepts or
	// produces.
	MaxChunkSize = 16777216

	// maxSizeLine bounds the chunk size line: eight decimal digits plus the
	// terminating newline.
	maxSizeLine = 9
)

// payloadFound describes a scanned payload chunk header. At most one of
// found and garbage is set; when neither is set more input is needed.
// sizeNlSz counts the bytes consumed by the size line including its newline;
// on the garbage path it counts the bytes to be discarded instead.
type payloadFound struct {
	found    bool
	garbage  bool
	sizeNlSz int
	dataSz   int
}

// totalSize is the number of buffer bytes covered by the chunk: the size
// line plus the data that follows it.
func (p payloadFound) totalSize() int {
	return p.sizeNlSz + p.dataSz
}

func (p *payloadFound) reset() {
	*p = payloadFound{}
}

// findPayload scans buff for a payload chunk header: an ASCII decimal size
// terminated by a newline within the first nine bytes. A zero size is the
// payload stream terminator.
func findPayload(buff []byte) payloadFound {
	var res payloadFound

	nl := bytes.IndexByte(buff, '\n')
	if nl < 0 {
		if len(buff) > maxSizeLine {
			// ignore all the garbage we received
			res.sizeNlSz = len(buff)
			res.garbage = true
		}
		// otherwise wait for the newline
		return res
	}

	res.sizeNlSz = nl + 1
	if res.sizeNlSz > maxSizeLine {
		// got too much stuff before the newline
		res.garbage = true
		return res
	}

	sz, ok := parseBase10(buff[:nl])
	if !ok {
		res.garbage = true
		return res
	}
	if sz > MaxChunkSize {
		// ignore a chunk which is too big; dataSz stays zero so only the
		// size line is discarded
		res.garbage = true
		return res
	}

	res.found = true
	res.dataSz = sz
	return res
}

// parseBase10 parses an unsigned base-10 integer. The empty slice parses
// as zero.
func parseBase10(b []byte) (int, bool) {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
