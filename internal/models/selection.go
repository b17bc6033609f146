package models

// MessageKind classifies the status line shown under a form.
type MessageKind string

const (
	MessageInfo    MessageKind = "info"
	MessageSuccess MessageKind = "success"
	MessageError   MessageKind = "error"
)

// Message is the user-visible status line of a form.
type Message struct {
	Kind MessageKind `json:"kind" msgpack:"kind"`
	Text string      `json:"text" msgpack:"text"`
}

// IsError reports whether the message should be styled as a failure.
func (m Message) IsError() bool {
	return m.Kind == MessageError
}

// UploadSelection is the judgements form input.
type UploadSelection struct {
	Court     Court       `json:"court" msgpack:"court"`
	Year      int         `json:"year" msgpack:"year"`
	Month     Month       `json:"month" msgpack:"month"`
	Overwrite bool        `json:"overwrite" msgpack:"overwrite"`
	Files     []*FileInfo `json:"files" msgpack:"files"`
}

// Complete reports whether every required field is set and at least
// one file is selected.
func (s UploadSelection) Complete() bool {
	return s.Court.Valid() && s.Year != 0 && s.Month.Valid() && len(s.Files) > 0
}

// File returns the selected file with the given ID.
func (s UploadSelection) File(id string) (*FileInfo, bool) {
	for _, f := range s.Files {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// PreviewState tracks which selected file is shown in the preview panel.
type PreviewState struct {
	SelectedFileID string `json:"selectedFileId,omitempty" msgpack:"selectedFileId,omitempty"`
}

// Visible reports whether a preview target is set.
func (p PreviewState) Visible() bool {
	return p.SelectedFileID != ""
}

// OcrSelection is the OCR form state.
type OcrSelection struct {
	Image         *FileInfo `json:"image,omitempty" msgpack:"image,omitempty"`
	PreviewURL    string    `json:"previewUrl,omitempty" msgpack:"previewUrl,omitempty"`
	Width         int       `json:"width,omitempty" msgpack:"width,omitempty"`
	Height        int       `json:"height,omitempty" msgpack:"height,omitempty"`
	ExtractedText string    `json:"extractedText,omitempty" msgpack:"extractedText,omitempty"`
	Loading       bool      `json:"loading" msgpack:"loading"`
}
