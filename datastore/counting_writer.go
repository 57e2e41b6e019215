package datastore

import (
	"bufio"
	"io"
)

type countingBufWriter struct {
	*bufio.Writer
	count int64
}

func newCountingBufWriter(w io.Writer) *countingBufWriter {
	return &countingBufWriter{Writer: bufio.NewWriterSize(w, 1<<16)}
}

func (c *countingBufWriter) Write(p []byte) (int, error) {
	n, err := c.Writer.Write(p)
	c.count += int64(n)
	return n, err
}
