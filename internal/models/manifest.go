package models

import "time"

// ManifestInputs holds the resolved source locations a worker reads from.
// Once a manifest is written these never change; re-runs get a new jobId
// and a new manifest.
type ManifestInputs struct {
	VideoKey    string `json:"video_key,omitempty"`
	AudioKey    string `json:"audio_key,omitempty"`
	SubtitleKey string `json:"subtitle_key,omitempty"`
	CommentsKey string `json:"comments_key,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
}

// ManifestOutputs holds the keys a worker is expected to write.
type ManifestOutputs struct {
	VideoKey      string `json:"video_key,omitempty"`
	AudioKey      string `json:"audio_key,omitempty"`
	MetadataKey   string `json:"metadata_key,omitempty"`
	SubtitleKey   string `json:"subtitle_key,omitempty"`
	TranscriptKey string `json:"transcript_key,omitempty"`
	WordsKey      string `json:"words_key,omitempty"`
}

// Manifest freezes a job's inputs at submission time so workers never
// query application state directly.
type Manifest struct {
	JobID     string          `json:"job_id"`
	TargetID  string          `json:"target_id"`
	Purpose   string          `json:"purpose"`
	Engine    string          `json:"engine"`
	CreatedAt time.Time       `json:"created_at"`
	Inputs    ManifestInputs  `json:"inputs"`
	Outputs   ManifestOutputs `json:"outputs"`
	Options   map[string]any  `json:"options,omitempty"`
}
