// handlers_ocr.go - OCR page and form actions
package api

import (
	"errors"
	"net/http"

	"github.com/judgments-ocr/frontend/internal/metrics"
	"github.com/judgments-ocr/frontend/internal/models"
	"github.com/judgments-ocr/frontend/internal/ocr"
	"github.com/judgments-ocr/frontend/internal/session"
	"github.com/judgments-ocr/frontend/internal/upload"
	"github.com/judgments-ocr/frontend/internal/web"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	ocrPath = "/ocr"

	msgNotImage      = "Please choose an image file."
	msgImageTooLarge = "The image is too large."
)

// OCRPage is the data of the OCR template.
type OCRPage struct {
	web.Layout
	State models.OcrSelection
	Alert string
}

// OCRState is the OCR form state plus its latest background job.
type OCRState struct {
	models.OcrSelection `msgpack:",inline"`
	Job                 *upload.Job `json:"job,omitempty" msgpack:"job,omitempty"`
}

func (h *Handler) renderOCR(c echo.Context, s *session.FormSession, status int, alert string) error {
	state := s.OCR.Snapshot()
	page := OCRPage{
		Layout: web.Layout{Title: "OCR", Active: web.PageOCR},
		State:  state,
		Alert:  alert,
	}
	if state.Loading {
		page.RefreshSeconds = refreshSeconds
	}
	return c.Render(status, web.PageOCR, page)
}

// HandleOCRPage renders the OCR form.
func (h *Handler) HandleOCRPage(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	return h.renderOCR(c, s, http.StatusOK, "")
}

// HandleSelectImage stages the posted image, replacing the current one even
// while an extraction is running. Posting without a file leaves the form
// unchanged.
func (h *Handler) HandleSelectImage(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	headers, err := h.multipartFiles(c, "image")
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		return redirect(c, ocrPath)
	}

	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return NewBadRequestError("unreadable file "+fh.Filename, err)
	}
	defer f.Close()

	switch err := s.OCR.SelectImage(fh.Filename, f); {
	case errors.Is(err, ocr.ErrNotImage):
		return h.renderOCR(c, s, http.StatusUnprocessableEntity, msgNotImage)
	case errors.Is(err, ocr.ErrImageTooLarge):
		return h.renderOCR(c, s, http.StatusUnprocessableEntity, msgImageTooLarge)
	case err != nil:
		return wrapError(err, "failed to stage image")
	}
	return redirect(c, ocrPath)
}

// HandleRemoveImage clears the image and the extracted text, also while an
// extraction is running.
func (h *Handler) HandleRemoveImage(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	s.OCR.RemoveImage()
	return redirect(c, ocrPath)
}

// HandleExtract starts text extraction in the background.
func (h *Handler) HandleExtract(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}

	ex, err := s.OCR.Prepare()
	switch {
	case errors.Is(err, ocr.ErrNoImage):
		return h.renderOCR(c, s, http.StatusUnprocessableEntity, ocr.MsgNoImage)
	case errors.Is(err, ocr.ErrExtractInProgress):
		return redirect(c, ocrPath)
	case err != nil:
		return wrapError(err, "failed to start extraction")
	}

	job := h.jobs.StartJob(metrics.FormOCR, s.ID, ex.Run)
	s.SetJob(metrics.FormOCR, job.ID)
	h.logger.Debug("text extraction started", zap.String("job", job.ID))
	return redirect(c, ocrPath)
}

// HandleOCRImage serves the selected image to the preview.
func (h *Handler) HandleOCRImage(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	id := c.Param("fileId")
	info, rc, err := s.OCR.OpenPreview(id)
	if err != nil {
		return NewNotFoundError("image", id)
	}
	return serveFile(c, info, rc)
}

// HandleOCRState returns the OCR state for scripted clients.
func (h *Handler) HandleOCRState(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	return respondState(c, OCRState{
		OcrSelection: s.OCR.Snapshot(),
		Job:          h.lastJob(s, metrics.FormOCR),
	})
}
