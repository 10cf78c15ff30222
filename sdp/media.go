package sdp

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Media m= 行
type Media struct {
	Type    string
	Port    int
	Proto   string
	Formats []string
}

func parseMedia(value string) (Media, error) {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return Media{}, errors.Errorf("invalid media %q", value)
	}
	port, err := strconv.Atoi(strings.SplitN(fields[1], "/", 2)[0])
	if err != nil {
		return Media{}, errors.Wrapf(err, "invalid media port %q", fields[1])
	}
	return Media{Type: fields[0], Port: port, Proto: fields[2], Formats: fields[3:]}, nil
}

func (m Media) String() string {
	parts := append([]string{m.Type, strconv.Itoa(m.Port), m.Proto}, m.Formats...)
	return strings.Join(parts, " ")
}

// MediaDescriptor is one m= section with its own c= and a= lines.
type MediaDescriptor struct {
	Media      Media
	Connection *Connection
	Attributes []Attribute
}

func NewMediaDescriptor(mediaType string, port int, proto string, formats ...string) *MediaDescriptor {
	return &MediaDescriptor{Media: Media{Type: mediaType, Port: port, Proto: proto, Formats: formats}}
}

func (md *MediaDescriptor) Clone() *MediaDescriptor {
	out := *md
	out.Media.Formats = append([]string(nil), md.Media.Formats...)
	if md.Connection != nil {
		c := *md.Connection
		out.Connection = &c
	}
	out.Attributes = append([]Attribute(nil), md.Attributes...)
	return &out
}

func (md *MediaDescriptor) AddAttribute(a Attribute) *MediaDescriptor {
	md.Attributes = append(md.Attributes, a)
	return md
}

func (md *MediaDescriptor) Attribute(name string) (Attribute, bool) {
	return findAttribute(md.Attributes, name)
}

// AddRtpMap adds the a=rtpmap line and the payload type to the format list.
func (md *MediaDescriptor) AddRtpMap(rm RtpMap) *MediaDescriptor {
	pt := strconv.Itoa(rm.Payload)
	found := false
	for _, f := range md.Media.Formats {
		if f == pt {
			found = true
			break
		}
	}
	if !found {
		md.Media.Formats = append(md.Media.Formats, pt)
	}
	return md.AddAttribute(rm.Attribute())
}

// RtpMap 第一个 rtpmap 属性
func (md *MediaDescriptor) RtpMap() (RtpMap, bool) {
	maps := md.RtpMaps()
	if len(maps) == 0 {
		return RtpMap{}, false
	}
	return maps[0], true
}

func (md *MediaDescriptor) RtpMaps() []RtpMap {
	var out []RtpMap
	for _, a := range md.Attributes {
		if a.Name != RtpMapName {
			continue
		}
		if rm, err := ParseRtpMap(a.Value); err == nil {
			out = append(out, rm)
		}
	}
	return out
}

// Direction 返回 sendrecv/sendonly/recvonly/inactive, 默认 sendrecv
func (md *MediaDescriptor) Direction() string {
	for _, a := range md.Attributes {
		switch a.Name {
		case "sendrecv", "sendonly", "recvonly", "inactive":
			return a.Name
		}
	}
	return "sendrecv"
}

const RtpMapName = "rtpmap"

// RtpMap "96 H264/90000"
type RtpMap struct {
	Payload   int
	Codec     string
	ClockRate int
	Params    string
}

func PS() RtpMap    { return RtpMap{Payload: 96, Codec: "PS", ClockRate: 90000} }
func MPEG4() RtpMap { return RtpMap{Payload: 97, Codec: "MPEG4", ClockRate: 90000} }
func H264() RtpMap  { return RtpMap{Payload: 98, Codec: "H264", ClockRate: 90000} }

func ParseRtpMap(value string) (RtpMap, error) {
	sp := strings.IndexByte(value, ' ')
	if sp < 0 {
		return RtpMap{}, errors.Errorf("invalid rtpmap %q", value)
	}
	payload, err := strconv.Atoi(strings.TrimSpace(value[:sp]))
	if err != nil {
		return RtpMap{}, errors.Wrapf(err, "invalid rtpmap payload %q", value)
	}

	parts := strings.Split(strings.TrimSpace(value[sp+1:]), "/")
	if len(parts) < 2 || parts[0] == "" {
		return RtpMap{}, errors.Errorf("invalid rtpmap encoding %q", value)
	}
	clock, err := strconv.Atoi(parts[1])
	if err != nil {
		return RtpMap{}, errors.Wrapf(err, "invalid rtpmap clock rate %q", value)
	}

	rm := RtpMap{Payload: payload, Codec: parts[0], ClockRate: clock}
	if len(parts) > 2 {
		rm.Params = strings.Join(parts[2:], "/")
	}
	return rm, nil
}

// Value 不带 "rtpmap:" 前缀
func (rm RtpMap) Value() string {
	s := strconv.Itoa(rm.Payload) + " " + rm.Codec + "/" + strconv.Itoa(rm.ClockRate)
	if rm.Params != "" {
		s += "/" + rm.Params
	}
	return s
}

func (rm RtpMap) Attribute() Attribute {
	return Attribute{Name: RtpMapName, Value: rm.Value()}
}

func (rm RtpMap) String() string {
	return RtpMapName + ":" + rm.Value()
}
