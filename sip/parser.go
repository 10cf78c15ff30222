package sip

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Parse parses one complete SIP message (typically one UDP datagram).
func Parse(data []byte) (*Message, error) {
	data = skipLeadingCRLF(data)
	if len(data) == 0 {
		return nil, &BrokenMessageError{Err: errors.New("empty message")}
	}

	headEnd, bodyStart := headerBlockEnd(data)
	if headEnd < 0 {
		return nil, &BrokenMessageError{Err: errors.New("unterminated header block"), Msg: string(data)}
	}

	lines := splitLines(data[:headEnd])
	if len(lines) == 0 {
		return nil, InvalidStartLineError("empty start line")
	}

	msg, err := parseStartLine(lines[0])
	if err != nil {
		return nil, err
	}

	if err := parseHeaders(msg, lines[1:]); err != nil {
		return nil, &MalformedMessageError{Err: err, Msg: string(data)}
	}

	rest := data[bodyStart:]
	if value, ok := msg.GetHeader(HeaderContentLength); ok {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, &MalformedMessageError{Err: errors.Errorf("invalid Content-Length %q", value), Msg: string(data)}
		}
		if n > len(rest) {
			return nil, &BrokenMessageError{
				Err: errors.Errorf("Content-Length %d exceeds the %d bytes available", n, len(rest)),
				Msg: string(data),
			}
		}
		if n > 0 {
			msg.body = append([]byte(nil), rest[:n]...)
		}
	} else if msg.HasHeader(HeaderContentType) && len(rest) > 0 {
		msg.body = append([]byte(nil), rest...)
	}

	return msg, nil
}

func ParseString(s string) (*Message, error) {
	return Parse([]byte(s))
}

// IsSIPMessage 首行必须包含 SIP/2.0, 否则直接丢弃
func IsSIPMessage(data []byte) bool {
	data = skipLeadingCRLF(data)
	if len(data) <= 2 {
		return false
	}
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	return bytes.Contains(line, []byte(SIPVersion))
}

func skipLeadingCRLF(data []byte) []byte {
	for len(data) > 0 && (data[0] == '\r' || data[0] == '\n') {
		data = data[1:]
	}
	return data
}

// headerBlockEnd returns the end of the header block and the start of the
// body. Both CRLF CRLF and bare LF LF terminate the block.
func headerBlockEnd(data []byte) (int, int) {
	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		j := i + 1
		if j < len(data) && data[j] == '\r' {
			j++
		}
		if j < len(data) && data[j] == '\n' {
			return i + 1, j + 1
		}
	}
	return -1, -1
}

func splitLines(head []byte) []string {
	raw := strings.Split(string(head), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func parseStartLine(line string) (*Message, error) {
	if strings.HasPrefix(line, "SIP/") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 || parts[0] != SIPVersion {
			return nil, InvalidStartLineError(fmt.Sprintf("invalid status line %q", line))
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 699 {
			return nil, InvalidStartLineError(fmt.Sprintf("invalid status code in %q", line))
		}
		reason := ""
		if len(parts) == 3 {
			reason = strings.TrimSpace(parts[2])
		}
		return &Message{statusLine: &StatusLine{Code: StatusCode(code), Reason: reason}}, nil
	}

	parts := strings.Fields(line)
	if len(parts) != 3 || parts[2] != SIPVersion {
		return nil, InvalidStartLineError(fmt.Sprintf("invalid request line %q", line))
	}
	uri, err := ParseURI(parts[1])
	if err != nil {
		return nil, InvalidStartLineError(fmt.Sprintf("invalid request uri in %q: %s", line, err))
	}
	return NewRequest(RequestMethod(strings.ToUpper(parts[0])), uri), nil
}

func parseHeaders(msg *Message, lines []string) error {
	for _, line := range lines {
		// 折行: 以空格或 tab 开头的行接到上一个头部
		if line[0] == ' ' || line[0] == '\t' {
			if len(msg.headers) == 0 {
				return errors.Errorf("continuation line without header: %q", line)
			}
			last := &msg.headers[len(msg.headers)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return errors.Errorf("invalid header line %q", line)
		}
		name := strings.TrimSpace(line[:colon])
		if name == "" || strings.ContainsAny(name, " \t") {
			return errors.Errorf("invalid header name in %q", line)
		}
		msg.headers = append(msg.headers, Header{
			Name:  CanonicalName(name),
			Value: strings.TrimSpace(line[colon+1:]),
		})
	}
	return nil
}
