package serial

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ErrLineTooLong is returned for a line exceeding the reader's limit. The
// rest of that line is discarded, so the next ReadLine starts on a fresh line.
var ErrLineTooLong = errors.New("serial: line too long")

// DefaultMaxLine is used when NewLineReader is given a non-positive limit.
const DefaultMaxLine = 64 * 1024

// LineReader splits a byte stream into '\n' terminated lines.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader wraps r. Lines longer than maxLine bytes, terminator
// excluded, are rejected with ErrLineTooLong.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	// room for "\r\n"
	return &LineReader{r: bufio.NewReaderSize(r, maxLine+2), max: maxLine}
}

// ReadLine blocks until a complete line is available and returns it without
// the trailing "\n" or "\r\n". The returned slice is owned by the caller.
// An unterminated final line is returned before io.EOF.
func (l *LineReader) ReadLine() ([]byte, error) {
	line, err := l.r.ReadSlice('\n')
	switch {
	case err == nil:
		return l.checked(line)
	case errors.Is(err, bufio.ErrBufferFull):
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = l.r.ReadSlice('\n')
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrLineTooLong
	case errors.Is(err, io.EOF) && len(line) > 0:
		return l.checked(line)
	default:
		return nil, err
	}
}

// checked enforces the limit on lines that fit the buffer. The buffer holds
// maxLine+2 bytes, so a bare "\n" line can still be one byte over.
func (l *LineReader) checked(line []byte) ([]byte, error) {
	line = trimEOL(line)
	if len(line) > l.max {
		return nil, ErrLineTooLong
	}
	return line, nil
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return bytes.Clone(line)
}
