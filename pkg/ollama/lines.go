package ollama

import "bytes"

// lineBuffer splits a byte stream into newline-delimited records. Bytes are
// written as they arrive from the transport, so a record may span any number
// of writes.
type lineBuffer struct {
	buf []byte
	off int
}

// write appends p. Lines returned by next before the write are invalidated.
func (b *lineBuffer) write(p []byte) {
	if b.off > 0 {
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.off = 0
	}
	b.buf = append(b.buf, p...)
}

// next returns the next complete line with surrounding whitespace trimmed.
// Once eof is set an unterminated remainder is returned as the last line.
func (b *lineBuffer) next(eof bool) ([]byte, bool) {
	pending := b.buf[b.off:]
	if i := bytes.IndexByte(pending, '\n'); i >= 0 {
		b.off += i + 1
		return bytes.TrimSpace(pending[:i]), true
	}

	if eof && len(pending) > 0 {
		b.off = len(b.buf)
		return bytes.TrimSpace(pending), true
	}

	return nil, false
}

// buffered returns the number of bytes not yet returned as a line.
func (b *lineBuffer) buffered() int {
	return len(b.buf) - b.off
}
