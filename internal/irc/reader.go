package irc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"

	"golang.org/x/text/encoding"
)

// lineReader splits a byte stream into lines. Bytes of a line that arrive
// before a read error (such as a deadline) are kept for the next call.
type lineReader struct {
	r       *bufio.Reader
	dec     *encoding.Decoder
	pending []byte
}

func newLineReader(r io.Reader, enc encoding.Encoding) *lineReader {
	return &lineReader{
		r:   bufio.NewReader(r),
		dec: enc.NewDecoder(),
	}
}

// ReadLine returns the next line without its terminator
func (lr *lineReader) ReadLine() (string, error) {
	chunk, err := lr.r.ReadBytes('\n')
	lr.pending = append(lr.pending, chunk...)
	if err != nil {
		// Flush an unterminated last line before reporting end of stream.
		if errors.Is(err, io.EOF) && len(lr.pending) > 0 {
			return lr.take(), nil
		}
		return "", err
	}
	return lr.take(), nil
}

func (lr *lineReader) take() string {
	raw := bytes.TrimRight(lr.pending, "\r\n")
	lr.pending = lr.pending[:0]

	decoded, err := lr.dec.Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// isTimeout reports whether err is a read deadline expiring
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
