package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/judgments-ocr/frontend/internal/backend"
	"github.com/judgments-ocr/frontend/internal/models"
)

// UploadCall records one UploadJudgements call.
type UploadCall struct {
	Request backend.JudgementUpload
	Names   []string
	Bodies  [][]byte
}

// FakeBackend implements the judgements and OCR clients in memory.
// Set Gate to hold calls until the channel is closed or receives.
type FakeBackend struct {
	mu sync.Mutex

	UploadResult *models.UploadResult
	UploadErr    error
	OCRResult    *models.OCRResult
	OCRErr       error
	Panic        bool
	Gate         chan struct{}

	Uploads []UploadCall
	Images  []string
}

func (f *FakeBackend) UploadJudgements(ctx context.Context, req backend.JudgementUpload) (*models.UploadResult, error) {
	f.wait(ctx)

	call := UploadCall{Request: req}
	for _, p := range req.Files {
		data, _ := io.ReadAll(p.Body)
		call.Names = append(call.Names, p.Name)
		call.Bodies = append(call.Bodies, data)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads = append(f.Uploads, call)
	if f.Panic {
		panic("fake backend panic")
	}
	if f.UploadErr != nil {
		return nil, f.UploadErr
	}
	if f.UploadResult == nil {
		return &models.UploadResult{}, nil
	}
	return f.UploadResult, nil
}

func (f *FakeBackend) ExtractText(ctx context.Context, image backend.Part) (*models.OCRResult, error) {
	f.wait(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Images = append(f.Images, image.Name)
	if f.Panic {
		panic("fake backend panic")
	}
	if f.OCRErr != nil {
		return nil, f.OCRErr
	}
	if f.OCRResult == nil {
		return &models.OCRResult{}, nil
	}
	return f.OCRResult, nil
}

// UploadCount returns the number of upload calls received.
func (f *FakeBackend) UploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Uploads)
}

// ImageCount returns the number of OCR calls received.
func (f *FakeBackend) ImageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Images)
}

func (f *FakeBackend) wait(ctx context.Context) {
	if f.Gate == nil {
		return
	}
	select {
	case <-f.Gate:
	case <-ctx.Done():
	}
}
