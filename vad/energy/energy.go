package energy

import (
	"context"
	"math"

	"callpilot/core"
	"callpilot/utils/audio"
)

// Config holds configuration for the energy VAD service.
type Config struct {
	// SpeechThreshold is the normalized RMS level at which speech starts.
	SpeechThreshold float64 `json:"speech_threshold"`
	// SilenceThreshold is the level below which speech ends. Kept lower than
	// SpeechThreshold for hysteresis, so the detector doesn't flicker.
	SilenceThreshold float64 `json:"silence_threshold"`
	// SpeechFrames is how many consecutive speech frames open a segment.
	SpeechFrames int `json:"speech_frames"`
	// SilenceFrames is how many consecutive silent frames close a segment.
	SilenceFrames int `json:"silence_frames"`
}

// DefaultConfig returns a Config tuned for 20ms mono PCM frames.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		SpeechFrames:     3, // ~60ms to start
		SilenceFrames:    5, // ~100ms to end; endpointing handles the long tail
	}
}

// Service is a pure-Go voice activity detector based on RMS energy with
// hysteresis. Implements handlers/vad.VADService.
type Service struct {
	config Config
	logger *core.Logger

	inSpeech     bool
	speechCount  int
	silenceCount int
}

func NewService(config Config, logger *core.Logger) *Service {
	if config.SpeechThreshold == 0 {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Service{config: config, logger: logger}
}

func (s *Service) Initialize(ctx context.Context) error { return nil }

func (s *Service) Cleanup() error { return nil }

func (s *Service) Reset() error {
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
	return nil
}

// ObserveFrame classifies one PCM frame. Returns whether the frame is speech
// and whether the speech/silence state flipped on this frame.
func (s *Service) ObserveFrame(chunk core.AudioChunk) (speech bool, changed bool, err error) {
	if err := audio.ValidatePCMData(chunk.Data, chunk.Channels); err != nil {
		return false, false, err
	}
	level := rms(audio.Samples(chunk.Data))

	was := s.inSpeech
	if s.inSpeech {
		if level < s.config.SilenceThreshold {
			s.silenceCount++
			s.speechCount = 0
			if s.silenceCount >= s.config.SilenceFrames {
				s.inSpeech = false
				s.silenceCount = 0
			}
		} else {
			s.silenceCount = 0
		}
	} else {
		if level >= s.config.SpeechThreshold {
			s.speechCount++
			s.silenceCount = 0
			if s.speechCount >= s.config.SpeechFrames {
				s.inSpeech = true
				s.speechCount = 0
			}
		} else {
			s.speechCount = 0
		}
	}

	return s.inSpeech, s.inSpeech != was, nil
}

// rms computes the normalized root-mean-square level of the samples.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
