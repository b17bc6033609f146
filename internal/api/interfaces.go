// interfaces.go - Dependencies the handlers rely on, narrowed for testing
package api

import (
	"context"

	"github.com/judgments-ocr/frontend/internal/session"
	"github.com/judgments-ocr/frontend/internal/upload"
)

// SessionStore resolves the form session of a browser.
type SessionStore interface {
	GetOrCreate(id string) (*session.FormSession, bool)
	Count() int
}

// JobRunner runs outbound submissions in the background.
type JobRunner interface {
	StartJob(kind, sessionID string, fn func(ctx context.Context)) *upload.Job
	GetJob(id string) (*upload.Job, bool)
}

var (
	_ SessionStore = (*session.Manager)(nil)
	_ JobRunner    = (*upload.Manager)(nil)
)
