package entity

import "github.com/google/uuid"

// ScanRequestMessage is the inbound message from the video.scan queue. Exactly
// one of VideoID or BatchLimit is set.
type ScanRequestMessage struct {
	VideoID    string `json:"video_id,omitempty"`
	BatchLimit int    `json:"batch_limit,omitempty"`
}

// ScanStatusMessage is published whenever a video's scan status changes.
type ScanStatusMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	VideoID      string    `json:"video_id"`
	Status       string    `json:"status"`
	SurfaceCount int       `json:"surface_count"`
	Terminal     bool      `json:"terminal"`
	Attempt      int       `json:"attempt"`
	ErrorReason  string    `json:"error_reason,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
