package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"callpilot/core"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

func TestULawRoundTripPreservesShape(t *testing.T) {
	in := pcmFromSamples([]int16{0, 1000, -1000, 8000, -8000, 16000, -16000})

	encoded, err := PCMBytesToULaw(in)
	if err != nil {
		t.Fatalf("PCMBytesToULaw: %v", err)
	}
	if len(encoded) != len(in)/2 {
		t.Fatalf("µ-law length = %d, want %d", len(encoded), len(in)/2)
	}

	decoded := ULawBytesToPCM(encoded)
	if len(decoded) != len(in) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(in))
	}

	// G.711 is lossy; check the decoded samples stay close in relative terms.
	orig := Samples(in)
	back := Samples(decoded)
	for i := range orig {
		diff := int(orig[i]) - int(back[i])
		if diff < 0 {
			diff = -diff
		}
		tolerance := int(orig[i]) / 10
		if tolerance < 0 {
			tolerance = -tolerance
		}
		if tolerance < 64 {
			tolerance = 64
		}
		if diff > tolerance {
			t.Fatalf("sample %d: %d decoded as %d, off by %d", i, orig[i], back[i], diff)
		}
	}
}

func TestPCMToULawRejectsOddLength(t *testing.T) {
	if _, err := PCMBytesToULaw([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("odd-length PCM accepted")
	}
}

func TestResampleDoublesFrameCount(t *testing.T) {
	in := pcmFromSamples([]int16{0, 100, 200, 300})

	out, err := ResamplePCMBytes(in, 1, 8000, 16000)
	if err != nil {
		t.Fatalf("ResamplePCMBytes: %v", err)
	}
	samples := Samples(out)
	if len(samples) != 8 {
		t.Fatalf("got %d samples, want 8", len(samples))
	}
	// Linear interpolation puts the midpoints halfway between neighbors.
	if samples[0] != 0 || samples[1] != 50 || samples[2] != 100 || samples[3] != 150 {
		t.Fatalf("unexpected interpolated samples: %v", samples[:4])
	}
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	in := pcmFromSamples([]int16{10, 20, 30})
	out, err := ResamplePCMBytes(in, 1, 8000, 8000)
	if err != nil {
		t.Fatalf("ResamplePCMBytes: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatal("same-rate resample modified data")
	}
}

func TestResampleRejectsStereo(t *testing.T) {
	in := pcmFromSamples([]int16{1, 2, 3, 4})
	if _, err := ResamplePCMBytes(in, 2, 8000, 16000); err == nil {
		t.Fatal("stereo input accepted")
	}
}

func TestMonoStereoRoundTrip(t *testing.T) {
	mono := pcmFromSamples([]int16{100, -200, 300})
	stereo := MonoToStereo(mono)
	if len(stereo) != len(mono)*2 {
		t.Fatalf("stereo length = %d, want %d", len(stereo), len(mono)*2)
	}
	back := StereoToMono(stereo)
	if !bytes.Equal(back, mono) {
		t.Fatalf("round trip changed samples: %v -> %v", Samples(mono), Samples(back))
	}
}

func TestWavWrapAndStripRoundTrip(t *testing.T) {
	pcm := pcmFromSamples([]int16{1, 2, 3, 4, 5, 6, 7, 8})

	wav, err := PCMBytesToWavBytes(pcm, 1, 16000)
	if err != nil {
		t.Fatalf("PCMBytesToWavBytes: %v", err)
	}
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Fatal("missing RIFF header")
	}

	stripped, err := StripWAVHeaderIfPresent(wav)
	if err != nil {
		t.Fatalf("StripWAVHeaderIfPresent: %v", err)
	}
	if !bytes.Equal(stripped, pcm) {
		t.Fatal("stripped PCM does not match original")
	}
}

func TestStripWAVHeaderPassesRawPCMThrough(t *testing.T) {
	pcm := pcmFromSamples([]int16{1, 2, 3, 4, 5, 6, 7, 8})
	out, err := StripWAVHeaderIfPresent(pcm)
	if err != nil {
		t.Fatalf("StripWAVHeaderIfPresent: %v", err)
	}
	if !bytes.Equal(out, pcm) {
		t.Fatal("raw PCM was modified")
	}
}

func TestConvertAudioChunkULawToPCM16k(t *testing.T) {
	pcm8k := pcmFromSamples(make([]int16, 160)) // 20ms at 8kHz
	ulaw, err := PCMBytesToULaw(pcm8k)
	if err != nil {
		t.Fatalf("PCMBytesToULaw: %v", err)
	}

	in := core.AudioChunk{
		Data:       ulaw,
		Format:     core.ULAW,
		SampleRate: 8000,
		Channels:   1,
	}
	out, err := ConvertAudioChunk(in, core.PCM, 1, 16000)
	if err != nil {
		t.Fatalf("ConvertAudioChunk: %v", err)
	}
	if out.Format != core.PCM || out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("wrong output shape: %+v", out)
	}
	if len(out.Data) != 320*2 {
		t.Fatalf("output bytes = %d, want %d", len(out.Data), 320*2)
	}
}

func TestConvertAudioChunkNoopWhenAlreadyTarget(t *testing.T) {
	in := core.AudioChunk{
		Data:       pcmFromSamples([]int16{5, 6, 7, 8}),
		Format:     core.PCM,
		SampleRate: 16000,
		Channels:   1,
	}
	out, err := ConvertAudioChunk(in, core.PCM, 1, 16000)
	if err != nil {
		t.Fatalf("ConvertAudioChunk: %v", err)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatal("no-op conversion modified data")
	}
}
