package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"

	"callpilot/core"
)

// ULawBytesToPCM converts G.711 µ-law bytes to 16-bit PCM bytes.
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// PCMBytesToULaw converts 16-bit PCM bytes to G.711 µ-law.
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ALawBytesToPCM converts G.711 A-law bytes to 16-bit PCM bytes.
func ALawBytesToPCM(aBytes []byte) []byte {
	return g711.DecodeAlaw(aBytes)
}

// PCMBytesToALaw converts 16-bit PCM bytes to G.711 A-law.
func PCMBytesToALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeAlaw(pcm), nil
}

// ValidatePCMData validates a PCM byte slice for basic integrity.
func ValidatePCMData(pcm []byte, numChannels int) error {
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if len(pcm)%2 != 0 {
		return errors.New("PCM data must have even length (16-bit samples)")
	}
	if numChannels <= 0 {
		return errors.New("invalid number of channels")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// Samples decodes a 16-bit little-endian PCM byte slice into int16 samples.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

// ResamplePCMBytes converts PCM between sample rates using linear
// interpolation. Good enough for 8k telephony ↔ 16k STT conversion.
func ResamplePCMBytes(pcm []byte, channels, fromRate, toRate int) ([]byte, error) {
	if err := ValidatePCMData(pcm, channels); err != nil {
		return nil, err
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, errors.New("sample rates must be positive")
	}
	if fromRate == toRate {
		return pcm, nil
	}
	if channels != 1 {
		return nil, fmt.Errorf("resampling supports mono only, got %d channels", channels)
	}

	in := Samples(pcm)
	outFrames := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]byte, outFrames*2)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * float64(fromRate) / float64(toRate)
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		sample := int16(float64(s0) + frac*float64(s1-s0))
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(sample))
	}
	return out, nil
}

// MonoToStereo duplicates the mono channel into interleaved stereo.
func MonoToStereo(monoPCM []byte) []byte {
	samples := len(monoPCM) / 2
	result := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		result[i*4] = monoPCM[i*2]
		result[i*4+1] = monoPCM[i*2+1]
		result[i*4+2] = monoPCM[i*2]
		result[i*4+3] = monoPCM[i*2+1]
	}
	return result
}

// StereoToMono averages interleaved stereo PCM down to mono.
func StereoToMono(stereoPCM []byte) []byte {
	samples := len(stereoPCM) / 4
	result := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		left := int16(binary.LittleEndian.Uint16(stereoPCM[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(stereoPCM[i*4+2 : i*4+4]))
		mono := int16((int(left) + int(right)) / 2)
		binary.LittleEndian.PutUint16(result[i*2:i*2+2], uint16(mono))
	}
	return result
}

// PCMBytesToWavBytes wraps PCM bytes in a WAV container (16-bit LE).
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if err := ValidatePCMData(pcm, numChannels); err != nil {
		return nil, err
	}
	if numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(&buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// StripWAVHeaderIfPresent returns raw PCM bytes if the input starts with a
// RIFF/WAVE header, otherwise the input unchanged.
func StripWAVHeaderIfPresent(chunk []byte) ([]byte, error) {
	if len(chunk) < 12 {
		return chunk, nil
	}
	if !bytes.HasPrefix(chunk, []byte("RIFF")) || !bytes.Equal(chunk[8:12], []byte("WAVE")) {
		return chunk, nil
	}

	i := 12
	for i+8 <= len(chunk) {
		chunkID := string(chunk[i : i+4])
		chunkSize := binary.LittleEndian.Uint32(chunk[i+4 : i+8])
		next := i + 8 + int(chunkSize)

		if chunkID == "data" {
			if next > len(chunk) {
				return nil, errors.New("invalid WAV: data chunk exceeds buffer length")
			}
			return chunk[i+8 : next], nil
		}

		if chunkSize%2 != 0 {
			next++
		}
		if next > len(chunk) {
			break
		}
		i = next
	}

	return nil, errors.New("invalid WAV: data chunk not found")
}

// ConvertAudioChunk converts audio between formats, sample rates, and channel
// counts, going through PCM as the intermediate representation.
func ConvertAudioChunk(
	input core.AudioChunk,
	targetFormat core.AudioEncodingFormat,
	targetChannels int,
	targetSampleRate int,
) (core.AudioChunk, error) {
	if input.Format == targetFormat && input.SampleRate == targetSampleRate && input.Channels == targetChannels {
		return input, nil
	}

	if input.Format != core.PCM {
		switch input.Format {
		case core.ULAW:
			input.Data = ULawBytesToPCM(input.Data)
		case core.ALAW:
			input.Data = ALawBytesToPCM(input.Data)
		default:
			return core.AudioChunk{}, errors.New("unsupported source format")
		}
		input.Format = core.PCM
	}

	if input.Channels != targetChannels {
		switch {
		case input.Channels == 1 && targetChannels == 2:
			input.Data = MonoToStereo(input.Data)
		case input.Channels == 2 && targetChannels == 1:
			input.Data = StereoToMono(input.Data)
		default:
			return core.AudioChunk{}, fmt.Errorf("unsupported channel conversion: %d to %d", input.Channels, targetChannels)
		}
		input.Channels = targetChannels
	}

	if input.SampleRate != targetSampleRate {
		resampled, err := ResamplePCMBytes(input.Data, input.Channels, input.SampleRate, targetSampleRate)
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = resampled
		input.SampleRate = targetSampleRate
	}

	if targetFormat != core.PCM {
		var err error
		switch targetFormat {
		case core.ULAW:
			input.Data, err = PCMBytesToULaw(input.Data)
		case core.ALAW:
			input.Data, err = PCMBytesToALaw(input.Data)
		default:
			err = errors.New("unsupported target format")
		}
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Format = targetFormat
	}

	return input, nil
}
