package sdp

import (
	"strconv"
	"strings"
	"time"
)

// GB28181 会话名
const (
	SessionPlay     = "Play"
	SessionPlayback = "Playback"
	SessionDownload = "Download"
	SessionTalk     = "Talk"
)

// Play builds a live view offer: s=Play, t=0 0, one video m= line carrying
// the given payloads and a=recvonly, y=ssrc.
func Play(owner, address string, port int, ssrc string, tcp bool, maps ...RtpMap) *SessionDescriptor {
	sd := New(owner, address)
	sd.SessionName = SessionPlay
	sd.AddMedia(videoMedia(port, tcp, maps))
	sd.SSRC = ssrc
	return sd
}

// Playback is Play for a recorded interval: s=Playback, u=channel:255 and
// t=start stop in unix seconds.
func Playback(owner, channel, address string, port int, ssrc string, start, stop time.Time, tcp bool, maps ...RtpMap) *SessionDescriptor {
	sd := New(owner, address)
	sd.SessionName = SessionPlayback
	sd.URI = channel + ":255"
	sd.Timing = Timing{Start: uint64(start.Unix()), Stop: uint64(stop.Unix())}
	sd.AddMedia(videoMedia(port, tcp, maps))
	sd.SSRC = ssrc
	return sd
}

func videoMedia(port int, tcp bool, maps []RtpMap) *MediaDescriptor {
	proto := "RTP/AVP"
	if tcp {
		proto = "TCP/RTP/AVP"
	}
	if len(maps) == 0 {
		maps = []RtpMap{PS(), MPEG4(), H264()}
	}
	md := NewMediaDescriptor("video", port, proto)
	md.AddAttribute(NewAttribute("recvonly", ""))
	for _, rm := range maps {
		md.AddRtpMap(rm)
	}
	if tcp {
		md.AddAttribute(NewAttribute("setup", "passive"))
		md.AddAttribute(NewAttribute("connection", "new"))
	}
	return md
}

// 视频编码
const (
	VideoMPEG4 = 1
	VideoH264  = 2
	VideoSVAC  = 3
	Video3GP   = 4
	VideoH265  = 5
)

// 分辨率
const (
	ResolutionQCIF  = 1
	ResolutionCIF   = 2
	Resolution4CIF  = 3
	ResolutionD1    = 4
	Resolution720P  = 5
	Resolution1080P = 6
)

const (
	StreamCBR = 1
	StreamVBR = 2
)

// 音频编码
const (
	AudioG711  = 1
	AudioG7231 = 2
	AudioG729  = 3
	AudioG7221 = 4
)

// 音频采样率
const (
	Sampling8K  = 1
	Sampling14K = 2
	Sampling16K = 3
	Sampling32K = 4
)

// FParam is the GB28181 f= media description
// "v/codec/resolution/frame/stream/bitrate a/codec/bitrate/sampling".
// Zero values render as empty segments.
type FParam struct {
	VideoCodec      int
	VideoResolution int
	VideoFrameRate  int
	VideoStream     int
	VideoBitrate    int
	AudioCodec      int
	AudioBitrate    int
	AudioSampling   int
}

// DefaultFParam H264 720P, G711 8K
func DefaultFParam() FParam {
	return FParam{
		VideoCodec:      VideoH264,
		VideoResolution: Resolution720P,
		AudioCodec:      AudioG711,
		AudioSampling:   Sampling8K,
	}
}

// FParamFor derives the video codec from the first video rtpmap of sd.
func FParamFor(sd *SessionDescriptor) FParam {
	fp := DefaultFParam()
	video := sd.MediaByType("video")
	if video == nil {
		return fp
	}
	rm, ok := video.RtpMap()
	if !ok {
		return fp
	}
	switch strings.ToUpper(rm.Codec) {
	case "MPEG4":
		fp.VideoCodec = VideoMPEG4
	case "SVAC":
		fp.VideoCodec = VideoSVAC
	case "3GP":
		fp.VideoCodec = Video3GP
	case "H265", "HEVC":
		fp.VideoCodec = VideoH265
	}
	return fp
}

func segment(n int) string {
	if n == 0 {
		return "/"
	}
	return "/" + strconv.Itoa(n)
}

func (fp FParam) String() string {
	return "v" + segment(fp.VideoCodec) + segment(fp.VideoResolution) + segment(fp.VideoFrameRate) +
		segment(fp.VideoStream) + segment(fp.VideoBitrate) +
		" a" + segment(fp.AudioCodec) + segment(fp.AudioBitrate) + segment(fp.AudioSampling)
}

// ParseFParam parses an f= value; empty or missing segments stay zero.
func ParseFParam(value string) FParam {
	var fp FParam
	for _, part := range strings.Fields(value) {
		segs := strings.Split(part, "/")
		nums := make([]int, len(segs)-1)
		for i, s := range segs[1:] {
			nums[i], _ = strconv.Atoi(s)
		}
		at := func(i int) int {
			if i < len(nums) {
				return nums[i]
			}
			return 0
		}
		switch segs[0] {
		case "v":
			fp.VideoCodec, fp.VideoResolution, fp.VideoFrameRate, fp.VideoStream, fp.VideoBitrate = at(0), at(1), at(2), at(3), at(4)
		case "a":
			fp.AudioCodec, fp.AudioBitrate, fp.AudioSampling = at(0), at(1), at(2)
		}
	}
	return fp
}
