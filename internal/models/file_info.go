package models

import "time"

// FileInfo represents metadata about a staged file.
type FileInfo struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	Size        int64     `json:"size" msgpack:"size"`
	ContentType string    `json:"contentType" msgpack:"contentType"`
	UploadedAt  time.Time `json:"uploadedAt" msgpack:"uploadedAt"`
}
