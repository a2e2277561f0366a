package core

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little-endian pulse-code modulation.
	ULAW                            // G.711 µ-law.
	ALAW                            // G.711 A-law.
)

// AudioChunk is one frame of audio moving through the pipeline.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	Format     AudioEncodingFormat
}

// GetDurationInSeconds returns the playback duration of the chunk.
func (ac *AudioChunk) GetDurationInSeconds() float64 {
	if ac.SampleRate == 0 || ac.Channels == 0 {
		return 0.0
	}
	bytesPerSample := 2
	if ac.Format == ULAW || ac.Format == ALAW {
		bytesPerSample = 1
	}
	totalSamples := len(ac.Data) / (bytesPerSample * ac.Channels)
	return float64(totalSamples) / float64(ac.SampleRate)
}

// RawData is an opaque transport-level payload: either a binary audio frame or
// a text signaling message, as supplied by the transport collaborator.
type RawData struct {
	Binary []byte
	Text   string
}
