package transport

import (
	"io"
	"iter"
)

// Single returns a sequence that yields b exactly once, even when b is empty.
func Single(b []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		yield(b)
	}
}

// SeqReader adapts a sequence of byte chunks to an io.ReadCloser.
type SeqReader struct {
	next func() ([]byte, bool)
	stop func()
	buf  []byte
	done bool
}

var _ io.ReadCloser = (*SeqReader)(nil)

// NewSeqReader returns a reader that consumes seq lazily.
func NewSeqReader(seq iter.Seq[[]byte]) *SeqReader {
	next, stop := iter.Pull(seq)
	return &SeqReader{next: next, stop: stop}
}

// Read copies the next available bytes into p.
func (r *SeqReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		chunk, ok := r.next()
		if !ok {
			r.finish()
			return 0, io.EOF
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close releases the underlying sequence. It is safe to call more than once.
func (r *SeqReader) Close() error {
	r.buf = nil
	r.finish()
	return nil
}

func (r *SeqReader) finish() {
	if r.done {
		return
	}
	r.done = true
	r.stop()
}
