// Package ocr implements the OCR form: one image, an immediate preview and
// a single in-flight text extraction against the remote API.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	// Decoders for DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/judgments-ocr/frontend/internal/backend"
	"github.com/judgments-ocr/frontend/internal/metrics"
	"github.com/judgments-ocr/frontend/internal/models"
	"github.com/judgments-ocr/frontend/internal/storage"
	"go.uber.org/zap"
)

// User-visible messages.
const (
	MsgNoImage = "Please upload an image first!"
	MsgNoText  = "No text extracted."
	MsgFailed  = "An error occurred while processing the image."
)

var (
	ErrNoImage           = errors.New("ocr: no image selected")
	ErrExtractInProgress = errors.New("ocr: extraction already in progress")
	ErrNotImage          = errors.New("ocr: file is not a supported image")
	ErrImageTooLarge     = errors.New("ocr: image exceeds the size limit")
	ErrImageMismatch     = errors.New("ocr: image is not the current selection")
)

// Extractor performs text extraction on the remote API.
type Extractor interface {
	ExtractText(ctx context.Context, image backend.Part) (*models.OCRResult, error)
}

// Locator maps a staged file ID to the URL the browser loads it from.
type Locator func(fileID string) string

// DefaultLocator serves previews from /ocr/image/{id}.
func DefaultLocator(fileID string) string {
	return "/ocr/image/" + fileID
}

// DefaultMaxImageBytes caps a selected image when no limit is configured.
const DefaultMaxImageBytes = 20 << 20

// Form is the OCR form of one session. All methods are safe for concurrent use.
type Form struct {
	mu        sync.Mutex
	store     storage.Store
	extractor Extractor
	locator   Locator
	logger    *zap.Logger
	maxBytes  int64

	state models.OcrSelection
	// pending is the extraction whose result still belongs to state.
	pending *Extraction
}

// NewForm creates an empty OCR form. Images larger than maxBytes are
// rejected; maxBytes <= 0 selects DefaultMaxImageBytes.
func NewForm(store storage.Store, extractor Extractor, locator Locator, logger *zap.Logger, maxBytes int64) *Form {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if locator == nil {
		locator = DefaultLocator
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Form{
		store:     store,
		extractor: extractor,
		locator:   locator,
		logger:    logger,
		maxBytes:  maxBytes,
	}
}

// SelectImage stages a new image, shows its preview immediately and clears
// previously extracted text. The previous image is released. Selecting
// during an extraction replaces the image and drops the pending result.
func (f *Form) SelectImage(name string, r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		metrics.RecordValidationFailure(metrics.FormOCR)
		return fmt.Errorf("%w: %s", ErrImageTooLarge, name)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotImage, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.store.Save(name, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("stage image: %w", err)
	}

	f.release()
	f.state = models.OcrSelection{
		Image:      info,
		PreviewURL: f.locator(info.ID),
		Width:      cfg.Width,
		Height:     cfg.Height,
	}
	return nil
}

// RemoveImage clears image, preview and extracted text together. An
// in-flight extraction keeps running but its result is dropped.
func (f *Form) RemoveImage() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.release()
	f.state = models.OcrSelection{}
}

// OpenPreview opens the staged image if fileID is the current selection.
func (f *Form) OpenPreview(fileID string) (*models.FileInfo, io.ReadCloser, error) {
	f.mu.Lock()
	img := f.state.Image
	f.mu.Unlock()

	if img == nil || img.ID != fileID {
		return nil, nil, ErrImageMismatch
	}
	rc, err := f.store.Open(fileID)
	if err != nil {
		return nil, nil, err
	}
	return img, rc, nil
}

// Busy reports whether an extraction is in flight.
func (f *Form) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Loading
}

// Snapshot returns the current state.
func (f *Form) Snapshot() models.OcrSelection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Extraction is a claimed extraction waiting to be sent. Once the form
// lets go of its image, the extraction owns the staged file and deletes it
// when done.
type Extraction struct {
	form    *Form
	image   *models.FileInfo
	discard bool
}

// Prepare checks an image is selected and sets the loading flag.
func (f *Form) Prepare() (*Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Loading {
		metrics.RecordSubmission(metrics.FormOCR, metrics.OutcomeBusy)
		return nil, ErrExtractInProgress
	}
	if f.state.Image == nil {
		metrics.RecordValidationFailure(metrics.FormOCR)
		return nil, ErrNoImage
	}

	f.state.Loading = true
	f.state.ExtractedText = ""
	f.pending = &Extraction{form: f, image: f.state.Image}
	return f.pending, nil
}

// Run sends the image and records the text. Loading is cleared on every
// path, including a panic in the extractor.
func (e *Extraction) Run(ctx context.Context) {
	text := MsgFailed
	defer func() { e.form.complete(e, text) }()

	rc, err := e.form.store.Open(e.image.ID)
	if err != nil {
		e.form.logger.Warn("staged image missing", zap.String("id", e.image.ID), zap.Error(err))
		metrics.RecordSubmission(metrics.FormOCR, metrics.OutcomeFailure)
		return
	}
	defer rc.Close()

	result, err := e.form.extractor.ExtractText(ctx, backend.Part{
		Name:        e.image.Name,
		ContentType: e.image.ContentType,
		Body:        rc,
	})
	if err != nil {
		e.form.logger.Warn("text extraction failed", zap.String("image", e.image.Name), zap.Error(err))
		metrics.RecordSubmission(metrics.FormOCR, metrics.OutcomeFailure)
		return
	}

	metrics.RecordSubmission(metrics.FormOCR, metrics.OutcomeSuccess)
	text = result.Text
	if text == "" {
		text = MsgNoText
	}
	e.form.logger.Info("text extracted", zap.String("image", e.image.Name), zap.Int("chars", len(result.Text)))
}

// Extract prepares and runs an extraction synchronously.
func (f *Form) Extract(ctx context.Context) error {
	ex, err := f.Prepare()
	if err != nil {
		return err
	}
	ex.Run(ctx)
	return nil
}

func (f *Form) complete(e *Extraction, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e.discard {
		f.delete(e.image.ID)
	}
	if f.pending != e {
		f.logger.Debug("dropping stale extraction result", zap.String("image", e.image.Name))
		return
	}
	f.pending = nil
	f.state.Loading = false
	f.state.ExtractedText = text
}

// release lets go of the current image; caller holds f.mu. A pending
// extraction still reading the file takes ownership of it.
func (f *Form) release() {
	if p := f.pending; p != nil {
		f.pending = nil
		if f.state.Image == p.image {
			p.discard = true
			return
		}
	}
	if f.state.Image != nil {
		f.delete(f.state.Image.ID)
	}
}

func (f *Form) delete(id string) {
	if err := f.store.Delete(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		f.logger.Warn("failed to delete staged image", zap.String("id", id), zap.Error(err))
	}
}
