// Package judgments implements the judgement upload form: metadata and
// file selection, the preview target, and a single in-flight submission to
// the remote API.
package judgments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/judgments-ocr/frontend/internal/backend"
	"github.com/judgments-ocr/frontend/internal/metrics"
	"github.com/judgments-ocr/frontend/internal/models"
	"github.com/judgments-ocr/frontend/internal/storage"
	"go.uber.org/zap"
)

// User-visible messages.
const (
	MsgIncomplete = "Please fill out all fields and upload at least one file."
	MsgUploading  = "Files are being uploaded..."
	MsgUploaded   = "Files uploaded successfully!"
	MsgFailed     = "Error uploading files."
)

var (
	ErrIncomplete       = errors.New("judgments: required fields missing")
	ErrSubmitInProgress = errors.New("judgments: upload already in progress")
	ErrFileNotSelected  = errors.New("judgments: file is not part of the selection")
	ErrNotPDF           = errors.New("judgments: only PDF files can be uploaded")
	ErrTooManyFiles     = errors.New("judgments: too many files selected")
)

// Uploader sends a judgement batch to the remote API.
type Uploader interface {
	UploadJudgements(ctx context.Context, req backend.JudgementUpload) (*models.UploadResult, error)
}

// Incoming is one file chosen by the user.
type Incoming struct {
	Name string
	Body io.Reader
}

// View is an immutable snapshot of the form for rendering.
type View struct {
	Selection   models.UploadSelection `json:"selection" msgpack:"selection"`
	Preview     models.PreviewState    `json:"preview" msgpack:"preview"`
	PreviewFile *models.FileInfo       `json:"previewFile,omitempty" msgpack:"previewFile,omitempty"`
	Message     models.Message         `json:"message" msgpack:"message"`
	Submitting  bool                   `json:"submitting" msgpack:"submitting"`
}

// Form is the judgement upload form of one session. All methods are safe
// for concurrent use.
type Form struct {
	mu       sync.Mutex
	store    storage.Store
	uploader Uploader
	logger   *zap.Logger
	maxFiles int

	sel        models.UploadSelection
	preview    models.PreviewState
	message    models.Message
	submitting bool
	pending    *Submission
}

// NewForm creates an empty form. maxFiles <= 0 means no limit.
func NewForm(store storage.Store, uploader Uploader, logger *zap.Logger, maxFiles int) *Form {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Form{
		store:    store,
		uploader: uploader,
		logger:   logger,
		maxFiles: maxFiles,
	}
}

// SetMetadata replaces court, year, month and overwrite. Invalid values
// become unset.
func (f *Form) SetMetadata(court models.Court, year int, month models.Month, overwrite bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !court.Valid() {
		court = ""
	}
	if year < models.YearMin || year > models.YearMax {
		year = 0
	}
	if !month.Valid() {
		month = ""
	}
	f.sel.Court = court
	f.sel.Year = year
	f.sel.Month = month
	f.sel.Overwrite = overwrite
}

// SelectFiles stages files in order and makes them the new selection,
// discarding the previous one and its preview target. An empty list leaves
// the form untouched. On error the previous selection is kept.
func (f *Form) SelectFiles(files []Incoming) error {
	if len(files) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitting {
		return ErrSubmitInProgress
	}
	if f.maxFiles > 0 && len(files) > f.maxFiles {
		f.message = models.Message{Kind: models.MessageError, Text: fmt.Sprintf("Select at most %d files.", f.maxFiles)}
		return ErrTooManyFiles
	}

	staged := make([]*models.FileInfo, 0, len(files))
	for _, in := range files {
		info, err := f.store.Save(in.Name, in.Body)
		if err != nil {
			f.discard(staged)
			return fmt.Errorf("stage %s: %w", in.Name, err)
		}
		staged = append(staged, info)

		if info.ContentType != "application/pdf" {
			f.discard(staged)
			f.message = models.Message{Kind: models.MessageError, Text: "Only PDF files can be uploaded: " + in.Name}
			return fmt.Errorf("%w: %s", ErrNotPDF, in.Name)
		}
	}

	f.discard(f.sel.Files)
	f.sel.Files = staged
	f.preview = models.PreviewState{}
	f.message = models.Message{}
	return nil
}

// SelectPreview makes a selected file the preview target.
func (f *Form) SelectPreview(fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sel.File(fileID); !ok {
		return ErrFileNotSelected
	}
	f.preview.SelectedFileID = fileID
	return nil
}

// OpenPreview opens the bytes of a selected file for the browser's viewer.
func (f *Form) OpenPreview(fileID string) (*models.FileInfo, io.ReadCloser, error) {
	f.mu.Lock()
	info, ok := f.sel.File(fileID)
	f.mu.Unlock()
	if !ok {
		return nil, nil, ErrFileNotSelected
	}

	rc, err := f.store.Open(fileID)
	if err != nil {
		return nil, nil, err
	}
	return info, rc, nil
}

// Busy reports whether a submission is in flight.
func (f *Form) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// Reset drops the selection, preview, message and staged files.
func (f *Form) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitting {
		return ErrSubmitInProgress
	}
	f.discard(f.sel.Files)
	f.sel = models.UploadSelection{}
	f.preview = models.PreviewState{}
	f.message = models.Message{}
	return nil
}

// Release drops all state even while a submission is in flight. The
// in-flight submission then owns the staged files and deletes them when it
// finishes; its result is dropped.
func (f *Form) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending != nil {
		f.logger.Debug("releasing form with submission in flight", zap.Int("files", len(f.pending.sel.Files)))
		f.pending.discard = true
		f.pending = nil
	} else {
		f.discard(f.sel.Files)
	}
	f.sel = models.UploadSelection{}
	f.preview = models.PreviewState{}
	f.message = models.Message{}
	f.submitting = false
}

// Snapshot returns the current state.
func (f *Form) Snapshot() View {
	f.mu.Lock()
	defer f.mu.Unlock()

	sel := f.sel
	sel.Files = make([]*models.FileInfo, len(f.sel.Files))
	copy(sel.Files, f.sel.Files)

	v := View{
		Selection:  sel,
		Preview:    f.preview,
		Message:    f.message,
		Submitting: f.submitting,
	}
	if info, ok := f.sel.File(f.preview.SelectedFileID); ok {
		v.PreviewFile = info
	}
	return v
}

// Submission is a validated upload waiting to be sent.
type Submission struct {
	form    *Form
	sel     models.UploadSelection
	discard bool
}

// Prepare validates the form and claims the in-flight slot. It performs no
// network call.
func (f *Form) Prepare() (*Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitting {
		metrics.RecordSubmission(metrics.FormJudgments, metrics.OutcomeBusy)
		return nil, ErrSubmitInProgress
	}
	if !f.sel.Complete() {
		metrics.RecordValidationFailure(metrics.FormJudgments)
		f.message = models.Message{Kind: models.MessageError, Text: MsgIncomplete}
		return nil, ErrIncomplete
	}

	f.submitting = true
	f.message = models.Message{Kind: models.MessageInfo, Text: MsgUploading}

	sel := f.sel
	sel.Files = make([]*models.FileInfo, len(f.sel.Files))
	copy(sel.Files, f.sel.Files)
	f.pending = &Submission{form: f, sel: sel}
	return f.pending, nil
}

// Run sends the submission and records the outcome on the form. The
// in-flight flag is cleared on every path.
func (s *Submission) Run(ctx context.Context) {
	msg := models.Message{Kind: models.MessageError, Text: MsgFailed}
	defer func() { s.form.complete(s, msg) }()

	result, err := s.send(ctx)
	if err != nil {
		s.form.logger.Warn("judgement upload failed",
			zap.Int("files", len(s.sel.Files)),
			zap.Error(err),
		)
		metrics.RecordSubmission(metrics.FormJudgments, metrics.OutcomeFailure)
		msg = FailureMessage(err)
		return
	}

	metrics.RecordSubmission(metrics.FormJudgments, metrics.OutcomeSuccess)
	s.form.logger.Info("judgement upload complete",
		zap.Int("files", len(s.sel.Files)),
		zap.Int("uploaded", len(result.Uploaded)),
		zap.Int("failed", len(result.Failed)),
	)
	msg = SuccessMessage(result)
}

func (s *Submission) send(ctx context.Context) (*models.UploadResult, error) {
	parts := make([]backend.Part, 0, len(s.sel.Files))
	for _, info := range s.sel.Files {
		rc, err := s.form.store.Open(info.ID)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", info.Name, err)
		}
		defer rc.Close()
		parts = append(parts, backend.Part{Name: info.Name, ContentType: info.ContentType, Body: rc})
	}

	return s.form.uploader.UploadJudgements(ctx, backend.JudgementUpload{
		Court:     s.sel.Court,
		Year:      s.sel.Year,
		Month:     s.sel.Month,
		Overwrite: s.sel.Overwrite,
		Files:     parts,
	})
}

// Submit validates and sends synchronously.
func (f *Form) Submit(ctx context.Context) error {
	sub, err := f.Prepare()
	if err != nil {
		return err
	}
	sub.Run(ctx)
	return nil
}

func (f *Form) complete(s *Submission, msg models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.discard {
		f.discard(s.sel.Files)
	}
	if f.pending != s {
		return
	}
	f.pending = nil
	f.submitting = false
	f.message = msg
}

// discard deletes staged files; caller holds f.mu.
func (f *Form) discard(files []*models.FileInfo) {
	for _, info := range files {
		if err := f.store.Delete(info.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			f.logger.Warn("failed to delete staged file", zap.String("id", info.ID), zap.Error(err))
		}
	}
}

// SuccessMessage formats the reply of a successful upload.
func SuccessMessage(result *models.UploadResult) models.Message {
	switch {
	case result == nil:
		return models.Message{Kind: models.MessageSuccess, Text: MsgUploaded}
	case result.HasCounts():
		return models.Message{
			Kind: models.MessageSuccess,
			Text: fmt.Sprintf("Upload complete: %d judgement(s) uploaded, %d failed.", len(result.Uploaded), len(result.Failed)),
		}
	case result.Message != "":
		return models.Message{Kind: models.MessageSuccess, Text: result.Message}
	default:
		return models.Message{Kind: models.MessageSuccess, Text: MsgUploaded}
	}
}

// FailureMessage formats a failed upload, appending backend detail if any.
func FailureMessage(err error) models.Message {
	text := MsgFailed
	if detail := backend.DetailOf(err); detail != "" {
		text += ": " + detail
	}
	return models.Message{Kind: models.MessageError, Text: text}
}
