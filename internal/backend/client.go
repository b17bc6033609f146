// Package backend is the HTTP client for the remote judgements and OCR API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/judgments-ocr/frontend/internal/metrics"
	"github.com/judgments-ocr/frontend/internal/models"
	"go.uber.org/zap"
)

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 4 << 20

// RemoteError is returned when the remote API answers with a non-2xx status.
type RemoteError struct {
	Status int
	// Detail is the backend's "detail" field coerced to display text.
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote API returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("remote API returned %d", e.Status)
}

// DetailOf returns the backend-supplied detail carried by err, if any.
func DetailOf(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Detail
	}
	return ""
}

// Part is one file attached to a multipart request.
type Part struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// JudgementUpload is the payload of an upload_judgements call.
type JudgementUpload struct {
	Court     models.Court
	Year      int
	Month     models.Month
	Overwrite bool
	Files     []Part
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	JudgementsPath string
	OCRPath        string
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client talks to the remote API.
type Client struct {
	baseURL        string
	judgementsPath string
	ocrPath        string
	http           *http.Client
	logger         *zap.Logger
}

// NewClient creates a remote API client.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		judgementsPath: opts.JudgementsPath,
		ocrPath:        opts.OCRPath,
		http:           hc,
		logger:         logger.Named("backend"),
	}
}

// UploadJudgements posts a batch of judgement PDFs with their metadata.
func (c *Client) UploadJudgements(ctx context.Context, req JudgementUpload) (*models.UploadResult, error) {
	fields := [][2]string{
		{"court", string(req.Court)},
		{"year", strconv.Itoa(req.Year)},
		{"month", string(req.Month)},
		{"overwrite", FormatOverwrite(req.Overwrite)},
	}
	files := make([]namedPart, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, namedPart{field: "files", Part: f})
	}

	raw, err := c.postMultipart(ctx, c.judgementsPath, fields, files)
	if err != nil {
		return nil, err
	}

	result := &models.UploadResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		// Unexpected payloads are tolerated; callers fall back to defaults.
		c.logger.Warn("unexpected upload reply", zap.Error(err), zap.Int("bytes", len(raw)))
		return &models.UploadResult{}, nil
	}
	return result, nil
}

// ExtractText posts one image for OCR.
func (c *Client) ExtractText(ctx context.Context, image Part) (*models.OCRResult, error) {
	raw, err := c.postMultipart(ctx, c.ocrPath, nil, []namedPart{{field: "file", Part: image}})
	if err != nil {
		return nil, err
	}

	result := &models.OCRResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		c.logger.Warn("unexpected ocr reply", zap.Error(err), zap.Int("bytes", len(raw)))
		return &models.OCRResult{}, nil
	}
	return result, nil
}

// FormatOverwrite serializes the overwrite flag the way the remote API expects.
func FormatOverwrite(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

type namedPart struct {
	field string
	Part
}

func (c *Client) postMultipart(ctx context.Context, path string, fields [][2]string, files []namedPart) ([]byte, error) {
	url := c.baseURL + path
	reqID := uuid.New().String()
	start := time.Now()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, fields, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	c.logger.Info("backend request",
		zap.String("req_id", reqID),
		zap.String("url", url),
		zap.Int("files", len(files)),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		pr.Close()
		metrics.BackendRequestDuration.WithLabelValues(path, "error").Observe(time.Since(start).Seconds())
		c.logger.Error("backend send failed", zap.String("req_id", reqID), zap.Error(err))
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	metrics.BackendRequestDuration.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Observe(elapsed.Seconds())
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Info("backend response",
		zap.String("req_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", elapsed),
	)

	if resp.StatusCode/100 != 2 {
		return nil, &RemoteError{Status: resp.StatusCode, Detail: parseDetail(raw)}
	}
	return raw, nil
}

func writeMultipart(mw *multipart.Writer, fields [][2]string, files []namedPart) error {
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return fmt.Errorf("write field %s: %w", kv[0], err)
		}
	}
	for _, f := range files {
		w, err := mw.CreatePart(partHeader(f.field, f.Name, f.ContentType))
		if err != nil {
			return fmt.Errorf("create part %s: %w", f.Name, err)
		}
		if _, err := io.Copy(w, f.Body); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func partHeader(field, filename, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}

// parseDetail extracts the "detail" field of an error reply as display text.
// String details are returned verbatim; structured ones as compact JSON.
func parseDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	if string(body.Detail) == "null" {
		return ""
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, body.Detail); err != nil {
		return string(body.Detail)
	}
	return buf.String()
}
