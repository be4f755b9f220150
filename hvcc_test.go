package webcodecs

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

var (
	testVPS265 = []byte{h265NALVPS << 1, 0x01, 0x0C, 0x01, 0xFF, 0xFF, 0x01, 0x60}
	testSPS265 = []byte{
		h265NALSPS << 1, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03,
		0x00, 0x90, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x5D,
	}
	testPPS265 = []byte{h265NALPPS << 1, 0x01, 0xC1, 0x72, 0xB4, 0x62, 0x40}
)

func TestHVCCMarshalParseIdempotent(t *testing.T) {
	rec := NewHEVCDecoderConfig(
		[][]byte{testVPS265}, [][]byte{testSPS265}, [][]byte{testPPS265})
	if rec == nil {
		t.Fatal("NewHEVCDecoderConfig returned nil")
	}

	first := rec.Marshal()
	parsed, err := ParseHEVCDecoderConfig(first)
	if err != nil {
		t.Fatal(err)
	}
	second := parsed.Marshal()
	if !bytes.Equal(first, second) {
		t.Fatalf("marshal(parse(marshal)) differs:\n% x\n% x", first, second)
	}

	if parsed.LengthSize != 4 {
		t.Fatalf("LengthSize = %d, want 4", parsed.LengthSize)
	}
	if !reflect.DeepEqual(parsed.VPS, rec.VPS) ||
		!reflect.DeepEqual(parsed.SPS, rec.SPS) ||
		!reflect.DeepEqual(parsed.PPS, rec.PPS) {
		t.Fatal("parameter sets did not survive the round trip")
	}
}

func TestHVCCProfileTierLevelOpaqueRoundTrip(t *testing.T) {
	rec := NewHEVCDecoderConfig(
		[][]byte{testVPS265}, [][]byte{testSPS265}, [][]byte{testPPS265})

	// Scribble over the profile/tier/level bytes: whatever is in there
	// must come back verbatim, the package never interprets it.
	for i := range rec.ProfileTierLevel {
		rec.ProfileTierLevel[i] = byte(0xA0 + i)
	}
	parsed, err := ParseHEVCDecoderConfig(rec.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if parsed.ProfileTierLevel != rec.ProfileTierLevel {
		t.Fatalf("profile/tier/level bytes = % x, want % x",
			parsed.ProfileTierLevel, rec.ProfileTierLevel)
	}
}

func TestHVCCParseMalformed(t *testing.T) {
	valid := NewHEVCDecoderConfig(
		[][]byte{testVPS265}, [][]byte{testSPS265}, [][]byte{testPPS265}).Marshal()

	cases := map[string][]byte{
		"too short":       valid[:10],
		"bad version":     append([]byte{0}, valid[1:]...),
		"truncated array": valid[:25],
	}
	for name, b := range cases {
		if _, err := ParseHEVCDecoderConfig(b); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("%s: ParseHEVCDecoderConfig = %v, want ErrMalformedRecord", name, err)
		}
	}
}

func TestHVCCNewRejectsInsufficientSets(t *testing.T) {
	if NewHEVCDecoderConfig(nil, [][]byte{testSPS265}, [][]byte{testPPS265}) != nil {
		t.Fatal("record built without VPS")
	}
	if NewHEVCDecoderConfig([][]byte{testVPS265}, [][]byte{{0x42, 0x01}}, [][]byte{testPPS265}) != nil {
		t.Fatal("record built from an SPS too short for profile bytes")
	}
}

func TestHVCCToAnnexB(t *testing.T) {
	rec := NewHEVCDecoderConfig(
		[][]byte{testVPS265}, [][]byte{testSPS265}, [][]byte{testPPS265})
	sample := lengthPrefixed4(t, h265IDRNAL)

	got, err := rec.ToAnnexB(sample, true)
	if err != nil {
		t.Fatal(err)
	}
	want := JoinAnnexB([][]byte{testVPS265, testSPS265, testPPS265, h265IDRNAL})
	if !bytes.Equal(got, want) {
		t.Fatalf("ToAnnexB(prepend) = % x, want VPS, SPS, PPS, then sample", got)
	}

	got, err = rec.ToAnnexB(sample, false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, JoinAnnexB([][]byte{h265IDRNAL})) {
		t.Fatalf("ToAnnexB(no prepend) = % x", got)
	}
}

func TestExtractHEVCParameterSets(t *testing.T) {
	annexB := JoinAnnexB([][]byte{h265AUDNAL, testVPS265, testSPS265, testPPS265, h265IDRNAL})
	vps, sps, pps := ExtractHEVCParameterSets(annexB)
	if len(vps) != 1 || !bytes.Equal(vps[0], testVPS265) {
		t.Fatalf("vps = % x", vps)
	}
	if len(sps) != 1 || !bytes.Equal(sps[0], testSPS265) {
		t.Fatalf("sps = % x", sps)
	}
	if len(pps) != 1 || !bytes.Equal(pps[0], testPPS265) {
		t.Fatalf("pps = % x", pps)
	}
}

func TestH265KeyframeAnnexB(t *testing.T) {
	if !H265KeyframeAnnexB(JoinAnnexB([][]byte{testVPS265, h265IDRNAL})) {
		t.Fatal("IDR access unit not detected")
	}
	if H265KeyframeAnnexB(JoinAnnexB([][]byte{h265TrailNAL})) {
		t.Fatal("trailing slice detected as keyframe")
	}
}
