package sip

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxStreamMessageSize bounds one message read from a stream connection.
const MaxStreamMessageSize = 64 * 1024

// Reader frames SIP messages out of a byte stream (TCP). Content-Length is
// mandatory on streams; a missing one means an empty body.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 4096)}
}

// Next returns the raw bytes of the next message. Keep-alive CRLFs between
// messages are skipped.
func (rd *Reader) Next() ([]byte, error) {
	var (
		head          bytes.Buffer
		contentLength int
		started       bool
	)

	for {
		line, err := rd.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && head.Len() > 0 {
				return nil, &BrokenMessageError{Err: io.ErrUnexpectedEOF, Msg: head.String()}
			}
			return nil, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if !started {
				continue
			}
			head.WriteString("\r\n")
			break
		}
		started = true

		if head.Len()+len(line) > MaxStreamMessageSize {
			return nil, &BrokenMessageError{Err: errors.New("message too large")}
		}
		head.WriteString(trimmed)
		head.WriteString("\r\n")

		if colon := strings.IndexByte(trimmed, ':'); colon > 0 {
			name := CanonicalName(trimmed[:colon])
			if name == HeaderContentLength {
				n, err := strconv.Atoi(strings.TrimSpace(trimmed[colon+1:]))
				if err != nil || n < 0 {
					return nil, &MalformedMessageError{Err: errors.Errorf("invalid Content-Length %q", trimmed)}
				}
				contentLength = n
			}
		}
	}

	if head.Len()+contentLength > MaxStreamMessageSize {
		return nil, &BrokenMessageError{Err: errors.New("message too large")}
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(rd.r, body); err != nil {
		return nil, &BrokenMessageError{Err: err, Msg: head.String()}
	}

	return append(head.Bytes(), body...), nil
}

// ReadMessage reads and parses the next message.
func (rd *Reader) ReadMessage() (*Message, error) {
	data, err := rd.Next()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
