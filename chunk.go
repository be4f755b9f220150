package webcodecs

// ChunkType indicates whether an encoded chunk is a keyframe or delta
// frame.
type ChunkType int

const (
	ChunkTypeKey   ChunkType = iota // decodable independently
	ChunkTypeDelta                  // requires previous frames
)

func (t ChunkType) String() string {
	switch t {
	case ChunkTypeKey:
		return "key"
	case ChunkTypeDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// EncodedChunk is one unit of encoded media: a chunk type, a caller-defined
// integer timestamp (microseconds by convention; may be negative or exceed
// 2^53), an optional duration, and an immutable payload whose length is
// fixed at construction.
type EncodedChunk struct {
	Type      ChunkType
	Timestamp int64
	Duration  int64 // 0 = unknown

	data []byte
}

// NewEncodedChunk copies data into a new chunk. The chunk's payload never
// changes afterwards.
func NewEncodedChunk(typ ChunkType, timestamp, duration int64, data []byte) *EncodedChunk {
	d := make([]byte, len(data))
	copy(d, data)
	return &EncodedChunk{Type: typ, Timestamp: timestamp, Duration: duration, data: d}
}

// ByteLength returns the payload length. It equals the length of the data
// given at construction and never changes.
func (c *EncodedChunk) ByteLength() int {
	return len(c.data)
}

// CopyTo copies the payload into dst. Fails with ErrBufferTooSmall if dst
// is shorter than ByteLength.
func (c *EncodedChunk) CopyTo(dst []byte) error {
	if len(dst) < len(c.data) {
		return ErrBufferTooSmall
	}
	copy(dst, c.data)
	return nil
}

// Bytes returns the payload. The returned slice must not be modified.
func (c *EncodedChunk) Bytes() []byte {
	return c.data
}
