package ocr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/judgments-ocr/frontend/internal/models"
	"github.com/judgments-ocr/frontend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestForm(t *testing.T) (*Form, *testutil.MockStorage, *testutil.FakeBackend) {
	t.Helper()
	store := testutil.NewMockStorage()
	fake := &testutil.FakeBackend{}
	return NewForm(store, fake, nil, nil, 0), store, fake
}

func selectPNG(t *testing.T, f *Form, name string) models.OcrSelection {
	t.Helper()
	require.NoError(t, f.SelectImage(name, bytes.NewReader(testutil.PNG(4, 3))))
	return f.Snapshot()
}

func TestSelectImage(t *testing.T) {
	form, store, _ := newTestForm(t)

	state := selectPNG(t, form, "scan.png")

	require.NotNil(t, state.Image)
	assert.Equal(t, "scan.png", state.Image.Name)
	assert.Equal(t, "image/png", state.Image.ContentType)
	assert.Equal(t, "/ocr/image/"+state.Image.ID, state.PreviewURL)
	assert.Equal(t, 4, state.Width)
	assert.Equal(t, 3, state.Height)
	assert.Empty(t, state.ExtractedText)
	assert.Equal(t, 1, store.GetFileCount())
}

func TestSelectImage_ReplacesPrevious(t *testing.T) {
	form, store, fake := newTestForm(t)
	fake.OCRResult = &models.OCRResult{Text: "old text"}

	first := selectPNG(t, form, "first.png")
	require.NoError(t, form.Extract(context.Background()))
	require.Equal(t, "old text", form.Snapshot().ExtractedText)

	second := selectPNG(t, form, "second.png")

	assert.NotEqual(t, first.Image.ID, second.Image.ID)
	assert.Empty(t, second.ExtractedText, "new image resets extracted text")
	assert.Equal(t, 1, store.GetFileCount(), "previous image is released")
}

func TestSelectImage_RejectsNonImage(t *testing.T) {
	form, store, _ := newTestForm(t)
	prev := selectPNG(t, form, "keep.png")

	err := form.SelectImage("judgement.pdf", bytes.NewReader(testutil.PDF("x")))

	assert.ErrorIs(t, err, ErrNotImage)
	assert.Equal(t, prev, form.Snapshot())
	assert.Equal(t, 1, store.GetFileCount())
}

func TestRemoveImage(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *Form)
	}{
		{"nothing selected", func(t *testing.T, f *Form) {}},
		{"image selected", func(t *testing.T, f *Form) { selectPNG(t, f, "a.png") }},
		{"text extracted", func(t *testing.T, f *Form) {
			selectPNG(t, f, "a.png")
			require.NoError(t, f.Extract(context.Background()))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form, store, fake := newTestForm(t)
			fake.OCRResult = &models.OCRResult{Text: "some text"}
			tt.setup(t, form)

			form.RemoveImage()

			assert.Equal(t, models.OcrSelection{}, form.Snapshot())
			assert.Equal(t, 0, store.GetFileCount())
		})
	}
}

func TestExtract_NoImage(t *testing.T) {
	form, _, fake := newTestForm(t)

	err := form.Extract(context.Background())

	assert.ErrorIs(t, err, ErrNoImage)
	assert.Equal(t, 0, fake.ImageCount())
	assert.False(t, form.Snapshot().Loading)
}

func TestExtract_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		result *models.OCRResult
		err    error
		want   string
	}{
		{"text", &models.OCRResult{Text: "HELD: appeal allowed"}, nil, "HELD: appeal allowed"},
		{"empty text", &models.OCRResult{}, nil, MsgNoText},
		{"failure", nil, errors.New("502 bad gateway"), MsgFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form, _, fake := newTestForm(t)
			fake.OCRResult = tt.result
			fake.OCRErr = tt.err
			selectPNG(t, form, "page.png")

			require.NoError(t, form.Extract(context.Background()))

			state := form.Snapshot()
			assert.Equal(t, tt.want, state.ExtractedText)
			assert.False(t, state.Loading, "loading is never left set")
			assert.Equal(t, []string{"page.png"}, fake.Images)
		})
	}
}

func TestExtract_LoadingWhileOutstanding(t *testing.T) {
	form, _, fake := newTestForm(t)
	fake.Gate = make(chan struct{})
	fake.OCRResult = &models.OCRResult{Text: "done"}
	selectPNG(t, form, "page.png")

	ex, err := form.Prepare()
	require.NoError(t, err)

	state := form.Snapshot()
	assert.True(t, state.Loading)
	assert.Empty(t, state.ExtractedText)

	_, err = form.Prepare()
	assert.ErrorIs(t, err, ErrExtractInProgress)

	runGated(ex, fake)

	state = form.Snapshot()
	assert.False(t, state.Loading)
	assert.Equal(t, "done", state.ExtractedText)
}

// runGated runs ex in the background, releases the fake backend and waits.
func runGated(ex *Extraction, fake *testutil.FakeBackend) {
	done := make(chan struct{})
	go func() {
		ex.Run(context.Background())
		close(done)
	}()
	close(fake.Gate)
	<-done
}

func TestRemoveImage_DuringExtraction(t *testing.T) {
	form, store, fake := newTestForm(t)
	fake.Gate = make(chan struct{})
	fake.OCRResult = &models.OCRResult{Text: "late text"}
	selectPNG(t, form, "page.png")

	ex, err := form.Prepare()
	require.NoError(t, err)

	form.RemoveImage()

	assert.Equal(t, models.OcrSelection{}, form.Snapshot(), "remove clears everything while loading")
	assert.False(t, form.Busy())
	assert.Equal(t, 1, store.GetFileCount(), "extraction still owns its staged file")

	runGated(ex, fake)

	assert.Equal(t, models.OcrSelection{}, form.Snapshot(), "late result is dropped")
	assert.Equal(t, 0, store.GetFileCount(), "extraction deletes its file when done")
	assert.Equal(t, []string{"page.png"}, fake.Images)
}

func TestSelectImage_DuringExtraction(t *testing.T) {
	form, store, fake := newTestForm(t)
	fake.Gate = make(chan struct{})
	fake.OCRResult = &models.OCRResult{Text: "text of the old page"}
	selectPNG(t, form, "old.png")

	ex, err := form.Prepare()
	require.NoError(t, err)

	next := selectPNG(t, form, "new.png")

	require.NotNil(t, next.Image)
	assert.Equal(t, "new.png", next.Image.Name)
	assert.False(t, next.Loading)
	assert.Equal(t, 2, store.GetFileCount())

	runGated(ex, fake)

	state := form.Snapshot()
	assert.Equal(t, next, state, "stale result does not touch the new image")
	assert.Empty(t, state.ExtractedText)
	assert.Equal(t, 1, store.GetFileCount(), "old image is deleted once its extraction ends")

	fake.Gate = nil
	fake.OCRResult = &models.OCRResult{Text: "fresh"}
	require.NoError(t, form.Extract(context.Background()))
	assert.Equal(t, "fresh", form.Snapshot().ExtractedText)
}

func TestSelectImage_TooLarge(t *testing.T) {
	store := testutil.NewMockStorage()
	img := testutil.PNG(4, 3)
	form := NewForm(store, &testutil.FakeBackend{}, nil, nil, int64(len(img)))

	require.NoError(t, form.SelectImage("fits.png", bytes.NewReader(img)), "limit is inclusive")
	prev := form.Snapshot()

	big := append(append([]byte{}, img...), 0)
	err := form.SelectImage("big.png", bytes.NewReader(big))

	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.Equal(t, prev, form.Snapshot(), "previous selection is kept")
	assert.Equal(t, 1, store.GetFileCount())
}

func TestExtract_PanicClearsLoading(t *testing.T) {
	form, _, fake := newTestForm(t)
	fake.Panic = true
	selectPNG(t, form, "page.png")

	ex, err := form.Prepare()
	require.NoError(t, err)
	assert.Panics(t, func() { ex.Run(context.Background()) })

	state := form.Snapshot()
	assert.False(t, state.Loading)
	assert.Equal(t, MsgFailed, state.ExtractedText)
}

func TestOpenPreview(t *testing.T) {
	form, _, _ := newTestForm(t)
	state := selectPNG(t, form, "page.png")

	info, rc, err := form.OpenPreview(state.Image.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, testutil.PNG(4, 3), data)
	assert.Equal(t, "page.png", info.Name)

	_, _, err = form.OpenPreview("stale-id")
	assert.ErrorIs(t, err, ErrImageMismatch)

	form.RemoveImage()
	_, _, err = form.OpenPreview(state.Image.ID)
	assert.ErrorIs(t, err, ErrImageMismatch, "removed image locator is released")
}

func TestCustomLocator(t *testing.T) {
	store := testutil.NewMockStorage()
	form := NewForm(store, &testutil.FakeBackend{}, func(id string) string { return "/p/" + strings.ToUpper(id) }, nil, 0)

	require.NoError(t, form.SelectImage("a.png", bytes.NewReader(testutil.PNG(1, 1))))
	state := form.Snapshot()
	assert.Equal(t, "/p/"+strings.ToUpper(state.Image.ID), state.PreviewURL)
}
