package sdp

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ContentType SIP 消息中 SDP 的类型
const ContentType = "application/sdp"

type Origin struct {
	Username       string
	SessionID      string
	SessionVersion string
	NetworkType    string
	AddressType    string
	Address        string
}

func parseOrigin(value string) (Origin, error) {
	fields := strings.Fields(value)
	if len(fields) != 6 {
		return Origin{}, errors.Errorf("invalid origin %q", value)
	}
	return Origin{fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]}, nil
}

func (o Origin) String() string {
	return strings.Join([]string{o.Username, o.SessionID, o.SessionVersion, o.NetworkType, o.AddressType, o.Address}, " ")
}

type Connection struct {
	NetworkType string
	AddressType string
	Address     string
}

func NewConnection(address string) *Connection {
	return &Connection{NetworkType: "IN", AddressType: "IP4", Address: address}
}

func parseConnection(value string) (*Connection, error) {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return nil, errors.Errorf("invalid connection %q", value)
	}
	return &Connection{fields[0], fields[1], fields[2]}, nil
}

func (c *Connection) String() string {
	return c.NetworkType + " " + c.AddressType + " " + c.Address
}

// Timing t= 行, GB28181 回放时为 unix 秒
type Timing struct {
	Start uint64
	Stop  uint64
}

func parseTiming(value string) (Timing, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return Timing{}, errors.Errorf("invalid timing %q", value)
	}
	start, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Timing{}, errors.Wrapf(err, "invalid timing %q", value)
	}
	stop, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Timing{}, errors.Wrapf(err, "invalid timing %q", value)
	}
	return Timing{start, stop}, nil
}

func (t Timing) String() string {
	return strconv.FormatUint(t.Start, 10) + " " + strconv.FormatUint(t.Stop, 10)
}

// Attribute a=name[:value]
type Attribute struct {
	Name  string
	Value string
}

func NewAttribute(name, value string) Attribute {
	return Attribute{Name: name, Value: value}
}

func parseAttribute(value string) Attribute {
	if i := strings.IndexByte(value, ':'); i >= 0 {
		return Attribute{Name: value[:i], Value: value[i+1:]}
	}
	return Attribute{Name: value}
}

func (a Attribute) String() string {
	if a.Value == "" {
		return a.Name
	}
	return a.Name + ":" + a.Value
}

// SessionDescriptor is an SDP body with the GB28181 vendor fields u=, y= and
// f=. Lines are written in the order v, o, s, [u], c, t, a*, m*, [y], [f].
type SessionDescriptor struct {
	Version     string
	Origin      Origin
	SessionName string
	URI         string
	Connection  *Connection
	Timing      Timing
	Attributes  []Attribute
	Media       []*MediaDescriptor
	SSRC        string
	Format      string
}

// New 默认会话描述, 地址为空时使用 0.0.0.0
func New(owner, address string) *SessionDescriptor {
	if address == "" {
		address = "0.0.0.0"
	}
	if owner == "" {
		owner = "user"
	}
	return &SessionDescriptor{
		Version:     "0",
		Origin:      Origin{owner, "0", "0", "IN", "IP4", address},
		SessionName: "Session SIP/SDP",
		Connection:  NewConnection(address),
	}
}

func defaults() *SessionDescriptor {
	return &SessionDescriptor{
		Version:     "0",
		Origin:      Origin{"unknown", "0", "0", "IN", "IP4", "0.0.0.0"},
		SessionName: " ",
		Connection:  NewConnection("0.0.0.0"),
	}
}

// Parse parses an SDP body. Missing mandatory fields take default values;
// unknown session-level lines (b=, k=, ...) are skipped.
func Parse(body string) (*SessionDescriptor, error) {
	sd := defaults()
	var (
		media   *MediaDescriptor
		sawConn bool
	)

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if len(line) < 2 || line[1] != '=' {
			return nil, errors.Errorf("invalid sdp line %q", line)
		}
		key, value := line[0], line[2:]

		var err error
		switch key {
		case 'v':
			sd.Version = value
		case 'o':
			sd.Origin, err = parseOrigin(value)
		case 's':
			sd.SessionName = value
		case 'u':
			sd.URI = value
		case 'c':
			var c *Connection
			if c, err = parseConnection(value); err == nil {
				if media != nil {
					media.Connection = c
				} else if !sawConn {
					sd.Connection, sawConn = c, true
				}
			}
		case 't':
			sd.Timing, err = parseTiming(value)
		case 'a':
			if media != nil {
				media.Attributes = append(media.Attributes, parseAttribute(value))
			} else {
				sd.Attributes = append(sd.Attributes, parseAttribute(value))
			}
		case 'm':
			var m Media
			if m, err = parseMedia(value); err == nil {
				media = &MediaDescriptor{Media: m}
				sd.Media = append(sd.Media, media)
			}
		case 'y':
			sd.SSRC = value
		case 'f':
			sd.Format = value
		}
		if err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read sdp")
	}

	return sd, nil
}

func (sd *SessionDescriptor) String() string {
	var b strings.Builder
	line := func(key byte, value string) {
		b.WriteByte(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	line('v', sd.Version)
	line('o', sd.Origin.String())
	line('s', sd.SessionName)
	if sd.URI != "" {
		line('u', sd.URI)
	}
	if sd.Connection != nil {
		line('c', sd.Connection.String())
	}
	line('t', sd.Timing.String())
	for _, a := range sd.Attributes {
		line('a', a.String())
	}
	for _, m := range sd.Media {
		line('m', m.Media.String())
		if m.Connection != nil {
			line('c', m.Connection.String())
		}
		for _, a := range m.Attributes {
			line('a', a.String())
		}
	}
	if sd.SSRC != "" {
		line('y', sd.SSRC)
	}
	if sd.Format != "" {
		line('f', sd.Format)
	}

	return b.String()
}

func (sd *SessionDescriptor) Bytes() []byte {
	return []byte(sd.String())
}

// IncrementVersion bumps the o= session version, as required for every new
// offer inside a dialog.
func (sd *SessionDescriptor) IncrementVersion() {
	n, err := strconv.ParseUint(sd.Origin.SessionVersion, 10, 64)
	if err != nil {
		n = 0
	}
	sd.Origin.SessionVersion = strconv.FormatUint(n+1, 10)
}

func (sd *SessionDescriptor) Clone() *SessionDescriptor {
	out := *sd
	if sd.Connection != nil {
		c := *sd.Connection
		out.Connection = &c
	}
	out.Attributes = append([]Attribute(nil), sd.Attributes...)
	out.Media = make([]*MediaDescriptor, 0, len(sd.Media))
	for _, m := range sd.Media {
		out.Media = append(out.Media, m.Clone())
	}
	return &out
}

func (sd *SessionDescriptor) AddAttribute(a Attribute) *SessionDescriptor {
	sd.Attributes = append(sd.Attributes, a)
	return sd
}

func (sd *SessionDescriptor) Attribute(name string) (Attribute, bool) {
	return findAttribute(sd.Attributes, name)
}

func (sd *SessionDescriptor) HasAttribute(name string) bool {
	_, ok := sd.Attribute(name)
	return ok
}

func (sd *SessionDescriptor) AddMedia(md *MediaDescriptor) *SessionDescriptor {
	sd.Media = append(sd.Media, md)
	return sd
}

// MediaByType 第一个指定类型 (video/audio) 的媒体描述
func (sd *SessionDescriptor) MediaByType(mediaType string) *MediaDescriptor {
	for _, m := range sd.Media {
		if m.Media.Type == mediaType {
			return m
		}
	}
	return nil
}

func (sd *SessionDescriptor) RemoveMedia(mediaType string) *SessionDescriptor {
	out := sd.Media[:0]
	for _, m := range sd.Media {
		if m.Media.Type != mediaType {
			out = append(out, m)
		}
	}
	sd.Media = out
	return sd
}

// Address 媒体连接地址, 优先使用会话级 c= 行
func (sd *SessionDescriptor) Address() string {
	if sd.Connection != nil {
		return sd.Connection.Address
	}
	for _, m := range sd.Media {
		if m.Connection != nil {
			return m.Connection.Address
		}
	}
	return ""
}

func findAttribute(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}
