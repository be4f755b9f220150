package webcodecs

import (
	"math"
)

// PatternType selects the synthetic pattern a TestPatternSource draws.
type PatternType int

const (
	PatternColorBars PatternType = iota // SMPTE color bars
	PatternGradient                     // Horizontal gradient
	PatternSolidColor
	PatternMovingBox // Animated box on a circular path
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternSolidColor:
		return "SolidColor"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// TestPatternConfig configures a test pattern source.
type TestPatternConfig struct {
	Width   int // default 1280
	Height  int // default 720
	FPS     int // default 30
	Pattern PatternType

	// For PatternSolidColor
	SolidR, SolidG, SolidB uint8
}

// DefaultTestPatternConfig returns a default test pattern configuration.
func DefaultTestPatternConfig() TestPatternConfig {
	return TestPatternConfig{
		Width:   1280,
		Height:  720,
		FPS:     30,
		Pattern: PatternColorBars,
	}
}

// TestPatternSource generates synthetic I420 frames for feeding a
// VideoEncoder without a capture device. Frames are produced on demand;
// each NextFrame call returns an independently owned frame with a
// timestamp advanced by one frame interval.
type TestPatternSource struct {
	config TestPatternConfig

	yPlane []byte
	uPlane []byte
	vPlane []byte

	frameCount uint64
}

// NewTestPatternSource creates a source, applying defaults for zero
// fields.
func NewTestPatternSource(config TestPatternConfig) *TestPatternSource {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}

	ySize := config.Width * config.Height
	uvSize := (config.Width / 2) * (config.Height / 2)
	buf := make([]byte, ySize+2*uvSize)

	return &TestPatternSource{
		config: config,
		yPlane: buf[:ySize],
		uPlane: buf[ySize : ySize+uvSize],
		vPlane: buf[ySize+uvSize:],
	}
}

// NextFrame draws the next pattern frame and returns it as an I420
// VideoFrame owned by the caller.
func (s *TestPatternSource) NextFrame() (*VideoFrame, error) {
	s.draw(s.frameCount)

	data := make([]byte, len(s.yPlane)+len(s.uPlane)+len(s.vPlane))
	n := copy(data, s.yPlane)
	n += copy(data[n:], s.uPlane)
	copy(data[n:], s.vPlane)

	ts := int64(s.frameCount) * 1_000_000 / int64(s.config.FPS)
	s.frameCount++

	frame, err := NewVideoFrame(PixelFormatI420, s.config.Width, s.config.Height, ts, RawBytes(data))
	if err != nil {
		return nil, err
	}
	frame.Duration = 1_000_000 / int64(s.config.FPS)
	return frame, nil
}

func (s *TestPatternSource) draw(frameNum uint64) {
	switch s.config.Pattern {
	case PatternGradient:
		s.drawGradient()
	case PatternSolidColor:
		s.drawSolid(s.config.SolidR, s.config.SolidG, s.config.SolidB)
	case PatternMovingBox:
		s.drawMovingBox(frameNum)
	default:
		s.drawColorBars()
	}
}

// Simplified 8-bar SMPTE pattern at 75% levels.
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192}, // white
	{192, 192, 0},   // yellow
	{0, 192, 192},   // cyan
	{0, 192, 0},     // green
	{192, 0, 192},   // magenta
	{192, 0, 0},     // red
	{0, 0, 192},     // blue
	{16, 16, 16},    // black
}

func (s *TestPatternSource) drawColorBars() {
	w, h := s.config.Width, s.config.Height
	barWidth := w / 8

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			barIdx := x / barWidth
			if barIdx > 7 {
				barIdx = 7
			}
			rgb := colorBarsRGB[barIdx]
			yVal, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])

			s.yPlane[y*w+x] = yVal
			if x%2 == 0 && y%2 == 0 {
				uvIdx := (y/2)*(w/2) + x/2
				s.uPlane[uvIdx] = u
				s.vPlane[uvIdx] = v
			}
		}
	}
}

func (s *TestPatternSource) drawGradient() {
	w, h := s.config.Width, s.config.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s.yPlane[y*w+x] = uint8((x * 255) / w)
		}
	}
	for i := range s.uPlane {
		s.uPlane[i] = 128
		s.vPlane[i] = 128
	}
}

func (s *TestPatternSource) drawSolid(r, g, b uint8) {
	yVal, u, v := rgbToYUV(r, g, b)
	for i := range s.yPlane {
		s.yPlane[i] = yVal
	}
	for i := range s.uPlane {
		s.uPlane[i] = u
		s.vPlane[i] = v
	}
}

func (s *TestPatternSource) drawMovingBox(frameNum uint64) {
	w, h := s.config.Width, s.config.Height

	for i := range s.yPlane {
		s.yPlane[i] = 16
	}
	for i := range s.uPlane {
		s.uPlane[i] = 128
		s.vPlane[i] = 128
	}

	boxSize := 100
	radius := float64(minInt(w, h)) / 4
	angle := float64(frameNum) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := boxY; y < boxY+boxSize && y < h; y++ {
		if y < 0 {
			continue
		}
		for x := boxX; x < boxX+boxSize && x < w; x++ {
			if x < 0 {
				continue
			}
			s.yPlane[y*w+x] = 235
		}
	}
}

// rgbToYUV converts RGB to YUV (BT.601).
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(clampF(yf, 16, 235))
	u = uint8(clampF(uf, 16, 240))
	v = uint8(clampF(vf, 16, 240))
	return
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
