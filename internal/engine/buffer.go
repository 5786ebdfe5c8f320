package engine

import (
	"bytes"
	"io"
)

// LogBuffer accumulates formatted lines until they are flushed to the
// local file.
type LogBuffer struct {
	buf bytes.Buffer
}

// Append adds a formatted line.
func (b *LogBuffer) Append(line string) {
	b.buf.WriteString(line)
}

// Len returns the number of buffered bytes.
func (b *LogBuffer) Len() int {
	return b.buf.Len()
}

// Flush writes the buffered text to w. Whatever w accepted is removed from
// the buffer, so a retry after a short write does not duplicate lines.
func (b *LogBuffer) Flush(w io.Writer) error {
	if b.buf.Len() == 0 {
		return nil
	}
	_, err := b.buf.WriteTo(w)
	return err
}

// Drain empties the buffer and returns what it held.
func (b *LogBuffer) Drain() []byte {
	out := bytes.Clone(b.buf.Bytes())
	b.buf.Reset()
	return out
}
