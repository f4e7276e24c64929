// Package stream turns a chunked "data: ..." response body into text.
//
// Chunk boundaries carry no meaning: a chunk may end inside a UTF-8 sequence,
// inside a line, or inside a JSON object. Decoder restores the line framing
// and Assembler accumulates the text carried by each line.
package stream

import (
	"strings"
	"unicode/utf8"
)

const (
	// DataPrefix marks an event line. Lines without it are ignored.
	DataPrefix = "data: "
	// DoneSentinel is the payload that ends a stream.
	DoneSentinel = "[DONE]"
)

// Decoder splits a byte stream into event payloads.
//
// Write accepts arbitrary chunks. Every complete line that starts with
// DataPrefix is trimmed and passed to the handler, except the DoneSentinel,
// which marks the decoder done; lines after it are dropped. Flush processes
// whatever is left once the body ends.
type Decoder struct {
	handle func(payload string)
	carry  []byte
	buf    strings.Builder
	done   bool
}

// NewDecoder returns a Decoder that calls handle for every payload in order.
func NewDecoder(handle func(payload string)) *Decoder {
	return &Decoder{handle: handle}
}

// Write decodes chunk and dispatches every completed line. It never fails.
func (d *Decoder) Write(chunk []byte) (int, error) {
	d.buf.WriteString(d.decode(chunk))
	text := d.buf.String()
	lines := strings.Split(text, "\n")
	// The last element is either empty or a line still waiting for its newline.
	d.buf.Reset()
	d.buf.WriteString(lines[len(lines)-1])
	for _, line := range lines[:len(lines)-1] {
		d.processLine(line)
	}
	return len(chunk), nil
}

// Flush decodes any held-back bytes and processes the unterminated tail.
func (d *Decoder) Flush() {
	if len(d.carry) > 0 {
		d.buf.WriteString(strings.ToValidUTF8(string(d.carry), string(utf8.RuneError)))
		d.carry = nil
	}
	rest := d.buf.String()
	d.buf.Reset()
	for _, line := range strings.Split(rest, "\n") {
		d.processLine(line)
	}
}

// Done reports whether the DoneSentinel has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

func (d *Decoder) processLine(line string) {
	if d.done || !strings.HasPrefix(line, DataPrefix) {
		return
	}
	payload := strings.TrimSpace(line[len(DataPrefix):])
	if payload == DoneSentinel {
		d.done = true
		return
	}
	if payload == "" || d.handle == nil {
		return
	}
	d.handle(payload)
}

// decode converts chunk to text, holding back a trailing incomplete UTF-8
// sequence until the next chunk completes it.
func (d *Decoder) decode(chunk []byte) string {
	data := chunk
	if len(d.carry) > 0 {
		data = append(d.carry, chunk...)
		d.carry = nil
	}
	cut := incompleteTail(data)
	if cut < len(data) {
		d.carry = append([]byte(nil), data[cut:]...)
		data = data[:cut]
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}

// incompleteTail returns the index where a trailing, not yet complete rune
// starts, or len(b) when b ends on a rune boundary.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		c := b[start]
		if c < utf8.RuneSelf {
			return len(b)
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[start:]) {
				return len(b)
			}
			return start
		}
	}
	return len(b)
}
