package webcodecs

// SegmentedFrame is one access unit reassembled from an Annex-B byte
// stream: the frame's bytes (start codes included, beginning at an Access
// Unit Delimiter), a keyframe classification, and a monotonically assigned
// sequence index. Frames are transient: the Data slice is an independent
// copy valid after further Push calls.
type SegmentedFrame struct {
	Data     []byte
	Keyframe bool
	Index    uint64
}

// FrameSegmenter reassembles a byte stream of NAL units into access-unit
// boundaries using Access Unit Delimiters. Bytes accumulate across Push
// calls; N AUD positions in the accumulated buffer yield N-1 complete
// frames, and the stream from the last AUD onward is retained as the new
// accumulation buffer. The final partial frame is only emitted on an
// explicit Flush, never speculatively, so a stream with a single AUD
// produces output only at end-of-stream.
type FrameSegmenter struct {
	codec VideoCodec // H264 or H265
	buf   []byte
	next  uint64
}

// NewFrameSegmenter creates a segmenter for H.264 or H.265 Annex-B input.
// Other codecs have no AUD concept; the segmenter treats them as H.264.
func NewFrameSegmenter(codec VideoCodec) *FrameSegmenter {
	return &FrameSegmenter{codec: codec}
}

// Push appends data to the accumulation buffer and returns all access
// units completed by it. A start code split across Push boundaries is
// handled by the accumulation: scanning always restarts from the retained
// tail.
func (s *FrameSegmenter) Push(data []byte) []SegmentedFrame {
	s.buf = append(s.buf, data...)

	auds := s.audPositions(s.buf)
	if len(auds) < 2 {
		return nil
	}

	frames := make([]SegmentedFrame, 0, len(auds)-1)
	for i := 0; i+1 < len(auds); i++ {
		frames = append(frames, s.emit(s.buf[auds[i]:auds[i+1]]))
	}

	// Retain from the last AUD onward.
	tail := make([]byte, len(s.buf)-auds[len(auds)-1])
	copy(tail, s.buf[auds[len(auds)-1]:])
	s.buf = tail

	return frames
}

// Flush emits the retained partial frame, if any, and resets the
// accumulation buffer. Call at end-of-stream.
func (s *FrameSegmenter) Flush() (SegmentedFrame, bool) {
	auds := s.audPositions(s.buf)
	if len(auds) == 0 {
		s.buf = nil
		return SegmentedFrame{}, false
	}
	frame := s.emit(s.buf[auds[0]:])
	s.buf = nil
	return frame, true
}

// audPositions returns the start-code offsets of every AUD NAL in buf.
func (s *FrameSegmenter) audPositions(buf []byte) []int {
	var positions []int
	for _, r := range scanAnnexB(buf) {
		if len(r.data) == 0 {
			continue
		}
		if s.nalType(r.data[0]) == s.audType() {
			positions = append(positions, r.scStart)
		}
	}
	return positions
}

func (s *FrameSegmenter) nalType(header byte) byte {
	if s.codec == VideoCodecH265 {
		return h265NALType(header)
	}
	return h264NALType(header)
}

func (s *FrameSegmenter) audType() byte {
	if s.codec == VideoCodecH265 {
		return h265NALAUD
	}
	return h264NALAUD
}

// emit copies one frame's byte range and classifies it. Classification
// scans the frame's NALs and decides on the first slice-class NAL
// encountered: IDR/CRA-class means keyframe, trailing-class means delta.
// A frame with no slice NAL defaults to not-keyframe.
func (s *FrameSegmenter) emit(frame []byte) SegmentedFrame {
	data := make([]byte, len(frame))
	copy(data, frame)

	out := SegmentedFrame{Data: data, Index: s.next}
	s.next++

	for _, nalu := range SplitAnnexB(frame) {
		if len(nalu) == 0 {
			continue
		}
		t := s.nalType(nalu[0])
		if s.codec == VideoCodecH265 {
			if !h265IsSlice(t) {
				continue
			}
			out.Keyframe = h265IsIRAP(t)
			return out
		}
		switch t {
		case h264NALIDR:
			out.Keyframe = true
			return out
		case h264NALSlice:
			return out
		}
	}
	return out
}
