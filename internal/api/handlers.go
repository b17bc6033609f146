// Package api holds the HTTP handlers for the judgements and OCR pages.
package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/judgments-ocr/frontend/internal/models"
	"github.com/judgments-ocr/frontend/internal/session"
	"github.com/judgments-ocr/frontend/internal/upload"
	"github.com/judgments-ocr/frontend/internal/web"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	sessionContextKey = "formSession"

	// refreshSeconds is how often a page polls while a request is in flight.
	refreshSeconds = 2

	defaultMaxMemory = 32 << 20
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	// MaxAge in seconds; 0 makes it a browser-session cookie.
	MaxAge int
}

// Options configures a Handler.
type Options struct {
	Sessions SessionStore
	Jobs     JobRunner
	Logger   *zap.Logger
	Cookie   CookieConfig
	Version  string
	// MaxMemory is the part of a multipart body kept in memory; the rest
	// spills to temporary files.
	MaxMemory int64
}

// Handler serves the pages and their form actions.
type Handler struct {
	sessions  SessionStore
	jobs      JobRunner
	logger    *zap.Logger
	cookie    CookieConfig
	version   string
	maxMemory int64
}

// NewHandler creates a new handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cookie.Name == "" {
		opts.Cookie.Name = "judgments_ocr_session"
	}
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = defaultMaxMemory
	}
	return &Handler{
		sessions:  opts.Sessions,
		jobs:      opts.Jobs,
		logger:    opts.Logger.Named("api"),
		cookie:    opts.Cookie,
		version:   opts.Version,
		maxMemory: opts.MaxMemory,
	}
}

// SessionMiddleware attaches the browser's form session to the request,
// starting a new one when the cookie is missing or stale.
func (h *Handler) SessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var id string
		if ck, err := c.Cookie(h.cookie.Name); err == nil {
			id = ck.Value
		}

		s, created := h.sessions.GetOrCreate(id)
		if created {
			c.SetCookie(&http.Cookie{
				Name:     h.cookie.Name,
				Value:    s.ID,
				Path:     "/",
				MaxAge:   h.cookie.MaxAge,
				HttpOnly: true,
				Secure:   h.cookie.Secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(sessionContextKey, s)
		return next(c)
	}
}

func formSession(c echo.Context) (*session.FormSession, error) {
	s, ok := c.Get(sessionContextKey).(*session.FormSession)
	if !ok {
		return nil, NewInternalError("form session missing", nil)
	}
	return s, nil
}

// HandleHome renders the landing page.
func (h *Handler) HandleHome(c echo.Context) error {
	return c.Render(http.StatusOK, web.PageHome, web.Layout{Title: "Home", Active: web.PageHome})
}

// redirect finishes a form action with Post/Redirect/Get.
func redirect(c echo.Context, path string) error {
	return c.Redirect(http.StatusSeeOther, path)
}

// multipartFiles parses the request body and returns the files of one
// field. A body that is not multipart yields no files.
func (h *Handler) multipartFiles(c echo.Context, field string) ([]*multipart.FileHeader, error) {
	r := c.Request()
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, NewBadRequestError("invalid form body", err)
	}
	return r.MultipartForm.File[field], nil
}

// openAll opens every file header, closing what was opened on failure.
func openAll(headers []*multipart.FileHeader) ([]multipart.File, error) {
	files := make([]multipart.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll(files)
			return nil, NewBadRequestError("unreadable file "+fh.Filename, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		f.Close()
	}
}

// serveFile streams a staged file inline.
func serveFile(c echo.Context, info *models.FileInfo, rc io.ReadCloser) error {
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentDisposition, `inline; filename="`+strings.ReplaceAll(info.Name, `"`, "")+`"`)
	hdr.Set("Cache-Control", "no-store")
	hdr.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	return c.Stream(http.StatusOK, contentType, rc)
}

// lastJob returns the latest background job of kind for the session. Jobs
// already cleaned up are reported as nil.
func (h *Handler) lastJob(s *session.FormSession, kind string) *upload.Job {
	id := s.JobID(kind)
	if id == "" {
		return nil
	}
	job, ok := h.jobs.GetJob(id)
	if !ok {
		return nil
	}
	return job
}

// respondState writes v as msgpack when the client asks for it, JSON otherwise.
func respondState(c echo.Context, v interface{}) error {
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "application/msgpack") {
		data, err := msgpack.Marshal(v)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, "application/msgpack", data)
	}
	return c.JSON(http.StatusOK, v)
}
