package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Terminator ends every line in both directions.
const Terminator = '\r'

// DefaultMaxLineLength bounds a single inbound line. Real status lines are
// well under 200 bytes; anything longer is line noise.
const DefaultMaxLineLength = 2048

// ErrLineTooLong is returned by Framer.Next for a line that exceeded the
// configured maximum. The line has been discarded and the framer is ready
// for the next one, so callers should log and keep reading.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Framer splits the inbound byte stream into lines. It buffers partial lines
// across reads. A Framer belongs to one connection; create a new one after
// reconnecting.
type Framer struct {
	r      *bufio.Reader
	maxLen int
}

// NewFramer returns a framer reading from r. maxLen <= 0 selects
// DefaultMaxLineLength.
func NewFramer(r io.Reader, maxLen int) *Framer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	// One extra byte so a maximal line still fits alongside its terminator.
	return &Framer{r: bufio.NewReaderSize(r, maxLen+1), maxLen: maxLen}
}

// Next returns the next non-empty line without its terminator. It returns
// ErrLineTooLong (non-fatal) for a discarded oversized line and the reader's
// error (typically io.EOF) when the stream ends. A trailing unterminated
// fragment at end of stream is dropped.
func (f *Framer) Next() (string, error) {
	for {
		chunk, err := f.r.ReadSlice(Terminator)
		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			if derr := f.discardLine(); derr != nil {
				return "", derr
			}
			return "", ErrLineTooLong
		default:
			return "", err
		}

		body := chunk[:len(chunk)-1]
		if len(body) > f.maxLen {
			return "", ErrLineTooLong
		}
		line := strings.Trim(decodeText(body), " \t\n\x00")
		if line == "" {
			continue
		}
		return line, nil
	}
}

// discardLine consumes input up to and including the next terminator.
func (f *Framer) discardLine() error {
	for {
		_, err := f.r.ReadSlice(Terminator)
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// decodeText keeps valid UTF-8 and otherwise reads the bytes as ISO-8859-1,
// which is what older firmware sends for accented titles.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
