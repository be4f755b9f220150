package webcodecs

import (
	"strings"
)

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
	VideoCodecH265
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecH265:
		return "video/H265"
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecAV1:
		return "video/AV1"
	default:
		return ""
	}
}

// LengthPrefixed reports whether samples of this codec are carried in a
// length-prefixed format (AVCC/HVCC) when stored in MP4-style containers.
// The remaining video codecs flow through IVF framing instead.
func (c VideoCodec) LengthPrefixed() bool {
	return c == VideoCodecH264 || c == VideoCodecH265
}

// IVFFourCC returns the IVF header FourCC for this codec, or "" if the
// codec is not carried in IVF.
func (c VideoCodec) IVFFourCC() string {
	switch c {
	case VideoCodecVP8:
		return "VP80"
	case VideoCodecVP9:
		return "VP90"
	case VideoCodecAV1:
		return "AV01"
	default:
		return ""
	}
}

// ParseVideoCodec maps a WebCodecs codec string (RFC 6381 style) to a
// VideoCodec. Profile and level suffixes are accepted but not interpreted
// here; they are passed through to the engine unmodified.
//
//	avc1.42001E / avc3.* -> H264
//	hvc1.* / hev1.*      -> H265
//	vp8                  -> VP8
//	vp09.*               -> VP9
//	av01.*               -> AV1
func ParseVideoCodec(codec string) VideoCodec {
	switch {
	case codec == "vp8":
		return VideoCodecVP8
	case strings.HasPrefix(codec, "avc1.") || strings.HasPrefix(codec, "avc3."):
		return VideoCodecH264
	case strings.HasPrefix(codec, "hvc1.") || strings.HasPrefix(codec, "hev1."):
		return VideoCodecH265
	case strings.HasPrefix(codec, "vp09."):
		return VideoCodecVP9
	case strings.HasPrefix(codec, "av01."):
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecAAC
	AudioCodecOpus
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecAAC:
		return "AAC"
	case AudioCodecOpus:
		return "Opus"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecAAC:
		return "audio/AAC"
	case AudioCodecOpus:
		return "audio/opus"
	default:
		return ""
	}
}

// ParseAudioCodec maps a WebCodecs codec string to an AudioCodec.
//
//	mp4a.40.2 / mp4a.40.5 / mp4a.40.29 -> AAC
//	opus                               -> Opus
func ParseAudioCodec(codec string) AudioCodec {
	switch {
	case codec == "opus":
		return AudioCodecOpus
	case strings.HasPrefix(codec, "mp4a.40."):
		return AudioCodecAAC
	default:
		return AudioCodecUnknown
	}
}
