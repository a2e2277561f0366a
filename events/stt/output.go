package stt

// STTInterimOutputEvent carries a partial transcript for the open utterance.
type STTInterimOutputEvent struct {
	Text string
}

func (e *STTInterimOutputEvent) GetId() string {
	return "stt.interim_output"
}

// STTFinalOutputEvent carries the final transcript of a finalized utterance.
type STTFinalOutputEvent struct {
	Text       string
	Confidence float64
}

func (e *STTFinalOutputEvent) GetId() string {
	return "stt.final_output"
}

// STTFinalizeRequestEvent asks the STT handler to flush the open utterance.
// Emitted by the turn detector toward the pipeline top.
type STTFinalizeRequestEvent struct{}

func (e *STTFinalizeRequestEvent) GetId() string {
	return "stt.finalize_request"
}
