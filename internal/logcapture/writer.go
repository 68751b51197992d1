package logcapture

import (
	"bytes"
	"sync"
)

// MaxLineBytes bounds how much unterminated output is held. Longer runs are
// emitted in pieces of this size.
const MaxLineBytes = 64 << 10

// Writer is an io.Writer that hands complete, cleaned lines to a sink in the
// order they were written. Partial lines are held until their newline arrives
// or Flush is called. Write never fails so a broken sink cannot abort the
// program producing the output.
type Writer struct {
	mu   sync.Mutex
	buf  []byte
	norm normalizer
	sink func(lines []string)
}

// NewWriter returns a Writer delivering lines to sink.
func NewWriter(sink func(lines []string)) *Writer {
	return &Writer{sink: sink}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		lines = w.norm.push(lines, cleanLine(string(w.buf[:i])))
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= MaxLineBytes {
		lines = w.norm.push(lines, cleanLine(string(w.buf[:MaxLineBytes])))
		w.buf = w.buf[MaxLineBytes:]
	}
	w.emit(lines)
	return len(p), nil
}

// Flush emits any buffered partial line and pending blank lines.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	var lines []string
	if len(w.buf) > 0 {
		lines = w.norm.push(lines, cleanLine(string(w.buf)))
		w.buf = nil
	}
	// Trailing blank lines carry nothing for a reader.
	w.norm.blanks = 0
	w.emit(lines)
}

func (w *Writer) emit(lines []string) {
	if len(lines) == 0 || w.sink == nil {
		return
	}
	w.sink(lines)
}
