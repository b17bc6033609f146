package models

import "encoding/json"

// UploadResult is the remote API reply to a judgements upload.
// Either Message or the two lists may be present; missing fields stay zero.
type UploadResult struct {
	Message  string            `json:"message,omitempty"`
	Uploaded []json.RawMessage `json:"uploaded_judgements,omitempty"`
	Failed   []json.RawMessage `json:"failed_judgements,omitempty"`
}

// HasCounts reports whether the reply carried the uploaded/failed lists.
func (r *UploadResult) HasCounts() bool {
	return r.Uploaded != nil || r.Failed != nil
}

// OCRResult is the remote API reply to a text extraction.
type OCRResult struct {
	Text string `json:"text"`
}
