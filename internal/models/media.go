package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// OutputRef points at one produced artifact.
type OutputRef struct {
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

// Outputs is the set of artifacts a worker declares on completion.
type Outputs struct {
	Video    *OutputRef `json:"video,omitempty"`
	Audio    *OutputRef `json:"audio,omitempty"`
	Metadata *OutputRef `json:"metadata,omitempty"`
	VTT      *OutputRef `json:"vtt,omitempty"`
	Words    *OutputRef `json:"words,omitempty"`
	Comments *OutputRef `json:"comments,omitempty"`
}

// Media is the domain record updated by download/asr/render handlers.
type Media struct {
	ID            surrealmodels.RecordID `json:"id"`
	OwnerID       *string                `json:"owner_id,omitempty"`
	Title         string                 `json:"title"`
	VideoKey      *string                `json:"video_key,omitempty"`
	AudioKey      *string                `json:"audio_key,omitempty"`
	MetadataKey   *string                `json:"metadata_key,omitempty"`
	SubtitleKey   *string                `json:"subtitle_key,omitempty"`
	TranscriptKey *string                `json:"transcript_key,omitempty"`
	CommentsKey   *string                `json:"comments_key,omitempty"`
	Error         *string                `json:"error,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Thread is the domain record updated by the thread-render handler.
type Thread struct {
	ID               surrealmodels.RecordID `json:"id"`
	OwnerID          *string                `json:"owner_id,omitempty"`
	Title            string                 `json:"title"`
	RenderedVideoKey *string                `json:"rendered_video_key,omitempty"`
	Error            *string                `json:"error,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at"`
}
