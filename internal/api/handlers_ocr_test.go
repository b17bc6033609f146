package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/judgments-ocr/frontend/internal/metrics"
	"github.com/judgments-ocr/frontend/internal/models"
	"github.com/judgments-ocr/frontend/internal/ocr"
	"github.com/judgments-ocr/frontend/internal/session"
	"github.com/judgments-ocr/frontend/internal/testutil"
	"github.com/judgments-ocr/frontend/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngFile(name string) testutil.FormFile {
	return testutil.FormFile{Field: "image", Name: name, Data: testutil.PNG(8, 6)}
}

func TestOCRPage_Empty(t *testing.T) {
	te := newTestEnv(t)

	rec := te.get("/ocr")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Drag and drop an image here")
	assert.Contains(t, body, "or click to upload")
	assert.Contains(t, body, `Upload an image and click "Extract Text" to see results here.`)
	assert.NotContains(t, body, "Remove Image")
}

func TestOCR_ExtractWithoutImage(t *testing.T) {
	te := newTestEnv(t)

	rec := te.postForm("/ocr/extract", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `role="alert">`+ocr.MsgNoImage)
	assert.Equal(t, 0, te.backend.ImageCount())
}

func TestOCR_SelectExtractRemove(t *testing.T) {
	te := newTestEnv(t)
	te.backend.OCRResult = &models.OCRResult{Text: "IN THE HIGH COURT OF JUDICATURE"}

	rec := te.postMultipart("/ocr/image", nil, pngFile("page-1.png"))
	assertRedirect(t, rec, "/ocr")

	state := te.session(t).OCR.Snapshot()
	require.NotNil(t, state.Image)
	body := te.get("/ocr").Body.String()
	assert.Contains(t, body, `<img src="/ocr/image/`+state.Image.ID+`"`)
	assert.Contains(t, body, `width="8" height="6"`)
	assert.Contains(t, body, "Remove Image")
	assert.Contains(t, body, "Extract Text")

	rec = te.get(state.PreviewURL)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, testutil.PNG(8, 6), rec.Body.Bytes())

	rec = te.postForm("/ocr/extract", nil)
	assertRedirect(t, rec, "/ocr")
	te.waitJobs(t)

	assert.Equal(t, []string{"page-1.png"}, te.backend.Images)
	body = te.get("/ocr").Body.String()
	assert.Contains(t, body, "Extracted Text")
	assert.Contains(t, body, "IN THE HIGH COURT OF JUDICATURE")

	rec = te.postForm("/ocr/remove", nil)
	assertRedirect(t, rec, "/ocr")
	assert.Equal(t, models.OcrSelection{}, te.session(t).OCR.Snapshot())
	assert.Equal(t, 0, te.store.GetFileCount())
	assert.Equal(t, http.StatusNotFound, te.get(state.PreviewURL).Code, "released image is no longer served")
}

func TestOCR_ExtractFailure(t *testing.T) {
	te := newTestEnv(t)
	te.backend.OCRErr = errors.New("connection reset")

	te.postMultipart("/ocr/image", nil, pngFile("scan.png"))
	te.postForm("/ocr/extract", nil)
	te.waitJobs(t)

	assert.Contains(t, te.get("/ocr").Body.String(), ocr.MsgFailed)
}

func TestOCR_Loading(t *testing.T) {
	te := newTestEnv(t)
	te.backend.Gate = make(chan struct{})
	te.postMultipart("/ocr/image", nil, pngFile("scan.png"))

	assertRedirect(t, te.postForm("/ocr/extract", nil), "/ocr")

	body := te.get("/ocr").Body.String()
	assert.Contains(t, body, "Extracting text, please wait...")
	assert.Contains(t, body, `<meta http-equiv="refresh" content="2">`)
	assert.Contains(t, body, `<button type="submit" class="button danger">Remove Image</button>`, "remove stays enabled")

	assertRedirect(t, te.postForm("/ocr/extract", nil), "/ocr")
	assertRedirect(t, te.postForm("/ocr/remove", nil), "/ocr")

	assert.Equal(t, models.OcrSelection{}, te.session(t).OCR.Snapshot(), "remove clears everything while extracting")
	body = te.get("/ocr").Body.String()
	assert.Contains(t, body, "Drag and drop an image here")
	assert.NotContains(t, body, "Extracting text, please wait...")

	close(te.backend.Gate)
	te.waitJobs(t)

	assert.Equal(t, 1, te.backend.ImageCount())
	assert.Equal(t, models.OcrSelection{}, te.session(t).OCR.Snapshot(), "late result is dropped")
	assert.Equal(t, 0, te.store.GetFileCount())
}

func TestOCR_ReplaceWhileLoading(t *testing.T) {
	te := newTestEnv(t)
	te.backend.Gate = make(chan struct{})
	te.backend.OCRResult = &models.OCRResult{Text: "text of the first page"}
	te.postMultipart("/ocr/image", nil, pngFile("first.png"))
	te.postForm("/ocr/extract", nil)

	rec := te.postMultipart("/ocr/image", nil, pngFile("second.png"))
	assertRedirect(t, rec, "/ocr")

	state := te.session(t).OCR.Snapshot()
	require.NotNil(t, state.Image)
	assert.Equal(t, "second.png", state.Image.Name)
	assert.False(t, state.Loading)

	close(te.backend.Gate)
	te.waitJobs(t)

	state = te.session(t).OCR.Snapshot()
	assert.Equal(t, "second.png", state.Image.Name)
	assert.Empty(t, state.ExtractedText, "first page's text is not shown for the second")
	assert.Equal(t, 1, te.store.GetFileCount())
}

func TestOCR_ImageTooLarge(t *testing.T) {
	te := newTestEnv(t, func(o *session.Options) { o.MaxImageBytes = 32 })

	rec := te.postMultipart("/ocr/image", nil, pngFile("huge.png"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), msgImageTooLarge)
	assert.Equal(t, 0, te.store.GetFileCount())
}

func TestOCR_RejectsNonImage(t *testing.T) {
	te := newTestEnv(t)

	rec := te.postMultipart("/ocr/image", nil,
		testutil.FormFile{Field: "image", Name: "judgement.pdf", Data: testutil.PDF("x")})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), msgNotImage)
	assert.Equal(t, 0, te.store.GetFileCount())
}

func TestOCR_SelectWithoutFile(t *testing.T) {
	te := newTestEnv(t)

	rec := te.postMultipart("/ocr/image", map[string]string{"note": "nothing chosen"})

	assertRedirect(t, rec, "/ocr")
	assert.Nil(t, te.session(t).OCR.Snapshot().Image)
}

func TestOCRState(t *testing.T) {
	te := newTestEnv(t)
	te.postMultipart("/ocr/image", nil, pngFile("scan.png"))

	rec := te.get("/api/ocr/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var state models.OcrSelection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.NotNil(t, state.Image)
	assert.Equal(t, "scan.png", state.Image.Name)
	assert.Equal(t, 8, state.Width)
	assert.False(t, state.Loading)
	assert.NotContains(t, rec.Body.String(), `"job"`, "no job before the first extraction")
}

func TestOCRState_ReportsJob(t *testing.T) {
	te := newTestEnv(t)
	te.backend.OCRErr = errors.New("connection reset")
	te.postMultipart("/ocr/image", nil, pngFile("scan.png"))
	te.postForm("/ocr/extract", nil)
	te.waitJobs(t)

	var state OCRState
	rec := te.get("/api/ocr/state", echo.HeaderAccept, "application/msgpack")
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &state))

	require.NotNil(t, state.Job)
	assert.Equal(t, te.session(t).JobID(metrics.FormOCR), state.Job.ID)
	assert.Equal(t, metrics.FormOCR, state.Job.Kind)
	assert.Equal(t, upload.StatusComplete, state.Job.Status)
	assert.NotNil(t, state.Job.CompletedAt)
	assert.Equal(t, ocr.MsgFailed, state.ExtractedText)
}
