package models

import "time"

// ScoreSet maps detector names to probabilities in [0,1].
type ScoreSet map[string]float64

const StatusSuccess = "success"

// ScanResult is the outcome of one scan.
type ScanResult struct {
	Status      string    `json:"status"`
	Kind        MediaKind `json:"media_type"`
	Probability float64   `json:"probability"`
	Breakdown   ScoreSet  `json:"model_breakdown"`
}

// ScanRecord is the persisted summary of a finished scan. Media bytes are never stored.
type ScanRecord struct {
	ID          int64     `json:"id"`
	Kind        MediaKind `json:"media_type"`
	Source      string    `json:"source"`
	FileName    string    `json:"file_name"`
	Probability float64   `json:"probability"`
	Breakdown   ScoreSet  `json:"model_breakdown"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	SourceUpload = "upload"
	SourceLink   = "link"
)
