// handlers_judgments.go - Judgement upload page and form actions
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/judgments-ocr/frontend/internal/judgments"
	"github.com/judgments-ocr/frontend/internal/metrics"
	"github.com/judgments-ocr/frontend/internal/models"
	"github.com/judgments-ocr/frontend/internal/session"
	"github.com/judgments-ocr/frontend/internal/upload"
	"github.com/judgments-ocr/frontend/internal/web"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const judgmentsPath = "/judgments"

// JudgmentsState is the judgements form state plus its latest background job.
type JudgmentsState struct {
	judgments.View `msgpack:",inline"`
	Job            *upload.Job `json:"job,omitempty" msgpack:"job,omitempty"`
}

// JudgmentsPage is the data of the judgements template.
type JudgmentsPage struct {
	web.Layout
	View   judgments.View
	Courts []models.Court
	Years  []int
	Months []models.Month
}

func (h *Handler) renderJudgments(c echo.Context, s *session.FormSession, status int) error {
	view := s.Judgments.Snapshot()
	page := JudgmentsPage{
		Layout: web.Layout{Title: "Judgments", Active: web.PageJudgments},
		View:   view,
		Courts: models.Courts(),
		Years:  models.Years(),
		Months: models.Months(),
	}
	if view.Submitting {
		page.RefreshSeconds = refreshSeconds
	}
	return c.Render(status, web.PageJudgments, page)
}

// HandleJudgmentsPage renders the upload form.
func (h *Handler) HandleJudgmentsPage(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	return h.renderJudgments(c, s, http.StatusOK)
}

// applyMetadata copies the metadata fields of the posted form.
func applyMetadata(c echo.Context, form *judgments.Form) {
	form.SetMetadata(
		models.ParseCourt(c.FormValue("court")),
		models.ParseYear(c.FormValue("year")),
		models.ParseMonth(c.FormValue("month")),
		parseCheckbox(c.FormValue("overwrite")),
	)
}

func parseCheckbox(v string) bool {
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// postedForm parses the body, applies its metadata and stages the files of
// the "files" field, if any were sent.
func (h *Handler) postedForm(c echo.Context, form *judgments.Form) error {
	headers, err := h.multipartFiles(c, "files")
	if err != nil {
		return err
	}
	applyMetadata(c, form)
	if len(headers) == 0 {
		return nil
	}

	files, err := openAll(headers)
	if err != nil {
		return err
	}
	defer closeAll(files)

	incoming := make([]judgments.Incoming, len(files))
	for i, f := range files {
		incoming[i] = judgments.Incoming{Name: headers[i].Filename, Body: f}
	}
	return form.SelectFiles(incoming)
}

// selectionRejected reports errors that leave the form with a message to show.
func selectionRejected(err error) bool {
	return errors.Is(err, judgments.ErrNotPDF) || errors.Is(err, judgments.ErrTooManyFiles)
}

// HandleSetMetadata stores court, year, month and overwrite.
func (h *Handler) HandleSetMetadata(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	if s.Judgments.Busy() {
		return redirect(c, judgmentsPath)
	}
	if _, err := h.multipartFiles(c, "files"); err != nil {
		return err
	}
	applyMetadata(c, s.Judgments)
	return redirect(c, judgmentsPath)
}

// HandleSelectFiles replaces the file selection. Metadata posted alongside
// is applied too so the dropdowns survive the round trip.
func (h *Handler) HandleSelectFiles(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	if s.Judgments.Busy() {
		return redirect(c, judgmentsPath)
	}

	if err := h.postedForm(c, s.Judgments); err != nil {
		switch {
		case selectionRejected(err):
			return h.renderJudgments(c, s, http.StatusUnprocessableEntity)
		case errors.Is(err, judgments.ErrSubmitInProgress):
			return redirect(c, judgmentsPath)
		default:
			return wrapError(err, "failed to stage files")
		}
	}
	return redirect(c, judgmentsPath)
}

// HandleSelectPreview makes a selected file the preview target.
func (h *Handler) HandleSelectPreview(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	id := c.Param("fileId")
	if err := s.Judgments.SelectPreview(id); err != nil {
		return NewNotFoundError("file", id)
	}
	return redirect(c, judgmentsPath)
}

// HandleJudgmentFile serves a selected PDF to the preview frame.
func (h *Handler) HandleJudgmentFile(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	id := c.Param("fileId")
	info, rc, err := s.Judgments.OpenPreview(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}
	return serveFile(c, info, rc)
}

// HandleSubmit validates the form and starts the upload in the background.
// Files posted with the submit replace the selection first.
func (h *Handler) HandleSubmit(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	if s.Judgments.Busy() {
		metrics.RecordSubmission(metrics.FormJudgments, metrics.OutcomeBusy)
		return redirect(c, judgmentsPath)
	}

	if err := h.postedForm(c, s.Judgments); err != nil {
		if selectionRejected(err) {
			return h.renderJudgments(c, s, http.StatusUnprocessableEntity)
		}
		if errors.Is(err, judgments.ErrSubmitInProgress) {
			return redirect(c, judgmentsPath)
		}
		return wrapError(err, "failed to stage files")
	}

	sub, err := s.Judgments.Prepare()
	switch {
	case errors.Is(err, judgments.ErrIncomplete):
		return h.renderJudgments(c, s, http.StatusUnprocessableEntity)
	case errors.Is(err, judgments.ErrSubmitInProgress):
		return redirect(c, judgmentsPath)
	case err != nil:
		return wrapError(err, "failed to start upload")
	}

	job := h.jobs.StartJob(metrics.FormJudgments, s.ID, sub.Run)
	s.SetJob(metrics.FormJudgments, job.ID)
	h.logger.Debug("judgement upload started", zap.String("job", job.ID))
	return redirect(c, judgmentsPath)
}

// HandleReset clears the form.
func (h *Handler) HandleReset(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	if err := s.Judgments.Reset(); err != nil && !errors.Is(err, judgments.ErrSubmitInProgress) {
		return wrapError(err, "failed to reset form")
	}
	return redirect(c, judgmentsPath)
}

// HandleJudgmentsState returns the form state for scripted clients.
func (h *Handler) HandleJudgmentsState(c echo.Context) error {
	s, err := formSession(c)
	if err != nil {
		return err
	}
	return respondState(c, JudgmentsState{
		View: s.Judgments.Snapshot(),
		Job:  h.lastJob(s, metrics.FormJudgments),
	})
}
