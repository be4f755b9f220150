// Package webcodecs provides a WebCodecs-style codec pipeline for Go,
// backed by an external encode/decode engine (native library via purego,
// or a subprocess speaking the stdio event protocol).
//
// Key pieces include:
//   - VideoDecoder/VideoEncoder and AudioDecoder/AudioEncoder pipelines with
//     configure/decode-or-encode/flush/reset/close lifecycles, bounded queues,
//     and backpressure signaling
//   - Bitstream normalization between length-prefixed sample formats
//     (AVCC/HVCC) and Annex-B byte streams, including parameter-set
//     extraction and reconstruction
//   - IVF framing for VP8/VP9/AV1 and ADTS framing for AAC
//   - An Annex-B access-unit segmenter driven by Access Unit Delimiters
//   - A muxer orchestrator that writes tracks and chunks to a primary
//     backend and falls back to a secondary backend on early failure
//
// # Architecture
//
//	Decode: EncodedChunk -> bitstream normalization -> Engine -> VideoFrame/AudioData callback
//	Encode: VideoFrame/AudioData -> Engine -> bitstream normalization -> EncodedChunk callback
//	Mux:    EncodedChunk -> Muxer -> WebM file or WebRTC track
//
// # Engines
//
// The package never performs pixel or sample transformation itself. An
// Engine implementation carries the actual codec: the purego engine loads
// libwebcodecs_engine at runtime (set WEBCODECS_ENGINE_LIB_PATH to the
// directory containing it), and the process engine spawns an external
// binary. Tests use an in-memory scripted engine.
//
// # Supported Codecs
//
// Video: H.264/AVC, H.265/HEVC, VP8, VP9, AV1
// Audio: AAC, Opus
// Availability of actual transforms depends on the configured engine.
package webcodecs
