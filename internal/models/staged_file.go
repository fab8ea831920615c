package models

import "time"

// StagedFile is a media blob persisted for the lifetime of one scan request.
type StagedFile struct {
	Key       string          `json:"key"`
	Path      string          `json:"path"`
	Extension string          `json:"extension"`
	Size      int64           `json:"size"`
	Reference *MediaReference `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
