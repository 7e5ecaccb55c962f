// Package corpus defines the records the metrics store persists. Every
// record is keyed by the fingerprint of the audio file it describes.
package corpus

// UnknownSpeaker is the speaker id of recordings without speaker attribution
const UnknownSpeaker = -1

// AudioMetrics describes the signal properties of one audio file
type AudioMetrics struct {
	Fingerprint     string
	DurationSeconds float64
	SampleRate      int
	Channels        int
	PCMFormat       string
	SNR             float64
	DBFS            float64
}

// Membership places a fingerprint in a dataset at a path
type Membership struct {
	ID          int64 // assigned by the store
	Fingerprint string
	Dataset     string
	Path        string
	SpeakerID   int
}

// Transcript is the text attached to a recording, either the reference text
// or an ASR hypothesis. CPS is nil when the duration is unknown.
type Transcript struct {
	Fingerprint string
	Text        string
	CPS         *float64
}

// TextComparison holds error rates of the ASR text against the reference
type TextComparison struct {
	Fingerprint string
	WER         float64
	CER         float64
}

// Interval is one aligned word (or pause, when Text is empty)
type Interval struct {
	Text     string  `json:"text"`
	Start    float64 `json:"min_time"`
	End      float64 `json:"max_time"`
	Duration float64 `json:"duration"`
}

// Alignment is the forced-alignment result for a recording
type Alignment struct {
	Fingerprint string
	Intervals   []Interval
}
