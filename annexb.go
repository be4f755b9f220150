package webcodecs

import (
	"encoding/binary"
	"fmt"
)

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	h264NALSlice = 1
	h264NALIDR   = 5
	h264NALSEI   = 6
	h264NALSPS   = 7
	h264NALPPS   = 8
	h264NALAUD   = 9
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	h265NALTrailN = 0
	h265NALTrailR = 1
	h265NALBLAWLP = 16
	h265NALIDRW   = 19
	h265NALIDRN   = 20
	h265NALCRA    = 21
	h265NALVPS    = 32
	h265NALSPS    = 33
	h265NALPPS    = 34
	h265NALAUD    = 35
	h265NALSEI    = 39
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// h264NALType extracts the NAL type from the first header byte: low 5 bits.
func h264NALType(header byte) byte {
	return header & 0x1F
}

// h265NALType extracts the NAL type from the first header byte: bits 1-6.
func h265NALType(header byte) byte {
	return (header >> 1) & 0x3F
}

// h265IsIRAP reports whether an H.265 NAL type is an intra random access
// point (BLA/IDR/CRA range, types 16-23).
func h265IsIRAP(nalType byte) bool {
	return nalType >= h265NALBLAWLP && nalType <= 23
}

// h265IsSlice reports whether an H.265 NAL type carries coded slice data
// (VCL range, types 0-31).
func h265IsSlice(nalType byte) bool {
	return nalType < 32
}

// nalRange locates one NAL unit inside an Annex-B buffer: the offset of
// its start code, the offset of its payload, and the payload itself.
type nalRange struct {
	scStart   int
	dataStart int
	data      []byte
}

// scanAnnexB finds every 3- or 4-byte start code in data and returns the
// NAL payload ranges between them. Adjacent start codes yield zero-length
// payloads; they are preserved, not dropped, so that a zero-length NAL
// round-trips through format conversion.
func scanAnnexB(data []byte) []nalRange {
	n := len(data)
	var ranges []nalRange

	i := 0
	for i+2 < n {
		if data[i] == 0 && data[i+1] == 0 {
			if i+3 < n && data[i+2] == 0 && data[i+3] == 1 {
				ranges = append(ranges, nalRange{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				ranges = append(ranges, nalRange{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	for idx := range ranges {
		end := n
		if idx+1 < len(ranges) {
			end = ranges[idx+1].scStart
		}
		ranges[idx].data = data[ranges[idx].dataStart:end]
	}
	return ranges
}

// SplitAnnexB splits an Annex-B byte stream into NAL unit payloads
// (without start codes). Both 3-byte and 4-byte start codes are
// recognized, including mixed adjacently in the same buffer. Zero-length
// NAL units are preserved. Bytes before the first start code are ignored.
func SplitAnnexB(data []byte) [][]byte {
	ranges := scanAnnexB(data)
	if ranges == nil {
		return nil
	}
	nalus := make([][]byte, len(ranges))
	for i, r := range ranges {
		nalus[i] = r.data
	}
	return nalus
}

// JoinAnnexB concatenates NAL units with 4-byte start codes.
func JoinAnnexB(nalus [][]byte) []byte {
	total := 0
	for _, nalu := range nalus {
		total += 4 + len(nalu)
	}
	out := make([]byte, 0, total)
	for _, nalu := range nalus {
		out = append(out, annexBStartCode...)
		out = append(out, nalu...)
	}
	return out
}

// AnnexBToLengthPrefixed rewrites an Annex-B byte stream as a
// length-prefixed sample: each start code is replaced with a big-endian
// length prefix of lengthSize bytes (1, 2, or 4) equal to the NAL payload
// length. Parameter-set NALs are not required and pass through as ordinary
// NAL units.
func AnnexBToLengthPrefixed(annexB []byte, lengthSize int) ([]byte, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("%w: length prefix size %d", ErrMalformedRecord, lengthSize)
	}

	nalus := SplitAnnexB(annexB)
	total := 0
	for _, nalu := range nalus {
		total += lengthSize + len(nalu)
	}

	out := make([]byte, 0, total)
	for _, nalu := range nalus {
		n := len(nalu)
		max := 1<<(8*lengthSize) - 1
		if lengthSize == 4 {
			max = 1<<32 - 1
		}
		if n > max {
			return nil, fmt.Errorf("%w: NAL unit of %d bytes does not fit %d-byte length prefix",
				ErrMalformedRecord, n, lengthSize)
		}
		switch lengthSize {
		case 1:
			out = append(out, byte(n))
		case 2:
			out = binary.BigEndian.AppendUint16(out, uint16(n))
		case 4:
			out = binary.BigEndian.AppendUint32(out, uint32(n))
		}
		out = append(out, nalu...)
	}
	return out, nil
}

// LengthPrefixedToAnnexB rewrites a length-prefixed sample as an Annex-B
// byte stream with 4-byte start codes. lengthSize is the number of bytes
// per length prefix (1, 2, or 4). A declared length that reads past the
// buffer end fails with ErrMalformedRecord. Zero-length NAL units
// round-trip as zero bytes.
func LengthPrefixedToAnnexB(sample []byte, lengthSize int) ([]byte, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("%w: length prefix size %d", ErrMalformedRecord, lengthSize)
	}

	out := make([]byte, 0, len(sample)+4*4)
	for pos := 0; pos < len(sample); {
		if pos+lengthSize > len(sample) {
			return nil, fmt.Errorf("%w: truncated NAL length prefix at offset %d", ErrMalformedRecord, pos)
		}
		var n int
		switch lengthSize {
		case 1:
			n = int(sample[pos])
		case 2:
			n = int(binary.BigEndian.Uint16(sample[pos:]))
		case 4:
			n = int(binary.BigEndian.Uint32(sample[pos:]))
		}
		pos += lengthSize
		if pos+n > len(sample) {
			return nil, fmt.Errorf("%w: NAL length %d reads past buffer end", ErrMalformedRecord, n)
		}
		out = append(out, annexBStartCode...)
		out = append(out, sample[pos:pos+n]...)
		pos += n
	}
	return out, nil
}
