package runner

import "bytes"

// defaultTailLimit bounds how much step output is retained in memory for
// history and error reporting. The full output still streams to the job log.
const defaultTailLimit = 8 * 1024

// tailWriter retains the last limit bytes written through it.
type tailWriter struct {
	limit int
	buf   bytes.Buffer
}

func newTailWriter(limit int) *tailWriter {
	if limit <= 0 {
		limit = defaultTailLimit
	}
	return &tailWriter{limit: limit}
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		b := t.buf.Bytes()
		b = b[len(b)-t.limit:]
		// Drop the leading partial line so the tail starts clean.
		if i := bytes.IndexByte(b, '\n'); i >= 0 && i < len(b)-1 {
			b = b[i+1:]
		}
		trimmed := append([]byte(nil), b...)
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailWriter) String() string { return t.buf.String() }
