package sdp

import (
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Standard converts to the RFC 4566 model of pion/sdp. The GB28181 fields
// u=, y= and f= have no counterpart there and are dropped.
func (sd *SessionDescriptor) Standard() *psdp.SessionDescription {
	version, _ := strconv.Atoi(sd.Version)
	sessionID, _ := strconv.ParseUint(sd.Origin.SessionID, 10, 64)
	sessionVersion, _ := strconv.ParseUint(sd.Origin.SessionVersion, 10, 64)

	out := &psdp.SessionDescription{
		Version: psdp.Version(version),
		Origin: psdp.Origin{
			Username:       sd.Origin.Username,
			SessionID:      sessionID,
			SessionVersion: sessionVersion,
			NetworkType:    sd.Origin.NetworkType,
			AddressType:    sd.Origin.AddressType,
			UnicastAddress: sd.Origin.Address,
		},
		SessionName:           psdp.SessionName(sd.SessionName),
		ConnectionInformation: toPionConnection(sd.Connection),
		TimeDescriptions: []psdp.TimeDescription{{
			Timing: psdp.Timing{StartTime: sd.Timing.Start, StopTime: sd.Timing.Stop},
		}},
	}
	for _, a := range sd.Attributes {
		out.Attributes = append(out.Attributes, psdp.Attribute{Key: a.Name, Value: a.Value})
	}
	for _, m := range sd.Media {
		md := &psdp.MediaDescription{
			MediaName: psdp.MediaName{
				Media:   m.Media.Type,
				Port:    psdp.RangedPort{Value: m.Media.Port},
				Protos:  splitProto(m.Media.Proto),
				Formats: append([]string(nil), m.Media.Formats...),
			},
			ConnectionInformation: toPionConnection(m.Connection),
		}
		for _, a := range m.Attributes {
			md.Attributes = append(md.Attributes, psdp.Attribute{Key: a.Name, Value: a.Value})
		}
		out.MediaDescriptions = append(out.MediaDescriptions, md)
	}

	return out
}

// FromStandard converts a pion session description.
func FromStandard(in *psdp.SessionDescription) *SessionDescriptor {
	sd := defaults()
	sd.Version = strconv.Itoa(int(in.Version))
	sd.Origin = Origin{
		Username:       in.Origin.Username,
		SessionID:      strconv.FormatUint(in.Origin.SessionID, 10),
		SessionVersion: strconv.FormatUint(in.Origin.SessionVersion, 10),
		NetworkType:    in.Origin.NetworkType,
		AddressType:    in.Origin.AddressType,
		Address:        in.Origin.UnicastAddress,
	}
	sd.SessionName = string(in.SessionName)
	if c := fromPionConnection(in.ConnectionInformation); c != nil {
		sd.Connection = c
	}
	if len(in.TimeDescriptions) > 0 {
		t := in.TimeDescriptions[0].Timing
		sd.Timing = Timing{Start: t.StartTime, Stop: t.StopTime}
	}
	for _, a := range in.Attributes {
		sd.Attributes = append(sd.Attributes, Attribute{Name: a.Key, Value: a.Value})
	}
	for _, m := range in.MediaDescriptions {
		md := &MediaDescriptor{
			Media: Media{
				Type:    m.MediaName.Media,
				Port:    m.MediaName.Port.Value,
				Proto:   joinProto(m.MediaName.Protos),
				Formats: append([]string(nil), m.MediaName.Formats...),
			},
			Connection: fromPionConnection(m.ConnectionInformation),
		}
		for _, a := range m.Attributes {
			md.Attributes = append(md.Attributes, Attribute{Name: a.Key, Value: a.Value})
		}
		sd.Media = append(sd.Media, md)
	}
	return sd
}

// ParseStandard 使用 pion 严格解析, 用于校验对端的 SDP
func ParseStandard(body []byte) (*SessionDescriptor, error) {
	var in psdp.SessionDescription
	if err := in.Unmarshal(body); err != nil {
		return nil, err
	}
	return FromStandard(&in), nil
}

func toPionConnection(c *Connection) *psdp.ConnectionInformation {
	if c == nil {
		return nil
	}
	return &psdp.ConnectionInformation{
		NetworkType: c.NetworkType,
		AddressType: c.AddressType,
		Address:     &psdp.Address{Address: c.Address},
	}
}

func fromPionConnection(c *psdp.ConnectionInformation) *Connection {
	if c == nil {
		return nil
	}
	out := &Connection{NetworkType: c.NetworkType, AddressType: c.AddressType}
	if c.Address != nil {
		out.Address = c.Address.Address
	}
	return out
}

func splitProto(proto string) []string {
	return strings.Split(proto, "/")
}

func joinProto(protos []string) string {
	return strings.Join(protos, "/")
}
