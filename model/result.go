package model

// Entity is one detected piece of PII. Start/End are character offsets into the
// transcript and are only present for token-classification models.
type Entity struct {
	EntityType string   `json:"entity_type"`
	Word       string   `json:"word"`
	Start      *int     `json:"start,omitempty"`
	End        *int     `json:"end,omitempty"`
	Score      *float64 `json:"score,omitempty"`
}

// HasOffsets reports whether the entity carries usable character offsets.
func (e Entity) HasOffsets() bool {
	return e.Start != nil && e.End != nil && *e.Start >= 0 && *e.End > *e.Start
}

// DetectionResult is the detection backend's answer for one submitted file.
type DetectionResult struct {
	Filename           string   `json:"filename"`
	Transcript         string   `json:"transcript"`
	RedactedTranscript string   `json:"redacted_transcript,omitempty"`
	Entities           []Entity `json:"entities"`
	RedactedAudioURL   string   `json:"redacted_audio_url,omitempty"`
}

// HasRedactedAudio reports whether the backend produced a redacted track.
func (r *DetectionResult) HasRedactedAudio() bool {
	return r != nil && r.RedactedAudioURL != ""
}
