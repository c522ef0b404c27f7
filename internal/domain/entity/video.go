package entity

import "time"

// VideoAsset is owned by the video library; the scan pipeline only reads
// SourceRef and writes Status.
type VideoAsset struct {
	ID              string
	SourceRef       string
	DurationSeconds *float64
	Priority        *float64
	Status          ScanStatus
	UpdatedAt       time.Time
}
