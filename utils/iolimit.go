package utils

import (
	"fmt"
	"io"
)

var ErrIOLimitReached = fmt.Errorf("read size limit reached")

type limitedReader struct {
	r         io.Reader
	remaining int64
}

// LimitReader reads at most n bytes from r. Reads past the limit return
// ErrIOLimitReached instead of io.EOF, so callers can tell a truncated stream
// from one that ended on its own.
func LimitReader(r io.Reader, n int64) io.Reader {
	return &limitedReader{r: r, remaining: n}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, ErrIOLimitReached
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

// ReadFrame fills buf from r. A short final frame is returned with its length
// and the error that ended the stream.
func ReadFrame(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
