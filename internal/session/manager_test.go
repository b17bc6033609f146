package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/judgments-ocr/frontend/internal/judgments"
	"github.com/judgments-ocr/frontend/internal/models"
	"github.com/judgments-ocr/frontend/internal/ocr"
	"github.com/judgments-ocr/frontend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, maxSessions int) (*Manager, *testutil.MockStorage, *testutil.FakeBackend) {
	t.Helper()
	store := testutil.NewMockStorage()
	fake := &testutil.FakeBackend{}
	m := NewManager(Options{
		Store:       store,
		Uploader:    fake,
		Extractor:   fake,
		MaxSessions: maxSessions,
	})
	return m, store, fake
}

func TestGetOrCreate(t *testing.T) {
	m, _, _ := newTestManager(t, 0)

	s, created := m.GetOrCreate("")
	require.True(t, created)
	require.NotNil(t, s.Judgments)
	require.NotNil(t, s.OCR)

	again, created := m.GetOrCreate(s.ID)
	assert.False(t, created)
	assert.Same(t, s, again)

	other, created := m.GetOrCreate("unknown-id")
	assert.True(t, created)
	assert.NotEqual(t, s.ID, other.ID)
	assert.Equal(t, 2, m.Count())
}

func TestSessionsAreIsolated(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	a := m.Create()
	b := m.Create()

	require.NoError(t, a.Judgments.SelectFiles([]judgments.Incoming{{Name: "a.pdf", Body: bytes.NewReader(testutil.PDF("a"))}}))

	assert.Len(t, a.Judgments.Snapshot().Selection.Files, 1)
	assert.Empty(t, b.Judgments.Snapshot().Selection.Files)
}

func TestCleanupOldSessions(t *testing.T) {
	m, store, _ := newTestManager(t, 0)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	old := m.Create()
	require.NoError(t, old.Judgments.SelectFiles([]judgments.Incoming{{Name: "a.pdf", Body: bytes.NewReader(testutil.PDF("a"))}}))
	require.NoError(t, old.OCR.SelectImage("a.png", bytes.NewReader(testutil.PNG(2, 2))))
	require.Equal(t, 2, store.GetFileCount())

	clock = clock.Add(20 * time.Minute)
	fresh := m.Create()

	clock = clock.Add(15 * time.Minute)
	removed := m.CleanupOldSessions(30 * time.Minute)

	assert.Equal(t, 1, removed)
	_, ok := m.Get(old.ID)
	assert.False(t, ok)
	_, ok = m.Get(fresh.ID)
	assert.True(t, ok)
	assert.Equal(t, 0, store.GetFileCount(), "expired session releases staged files")
}

func TestCleanupKeepsBusySessions(t *testing.T) {
	m, _, fake := newTestManager(t, 0)
	fake.Gate = make(chan struct{})
	clock := time.Now()
	m.now = func() time.Time { return clock }

	s := m.Create()
	require.NoError(t, s.OCR.SelectImage("a.png", bytes.NewReader(testutil.PNG(2, 2))))
	ex, err := s.OCR.Prepare()
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	assert.Equal(t, 0, m.CleanupOldSessions(time.Minute))

	done := make(chan struct{})
	go func() {
		ex.Run(context.Background())
		close(done)
	}()
	close(fake.Gate)
	<-done

	assert.Equal(t, 1, m.CleanupOldSessions(time.Minute))
}

func TestEvictWhenFull(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	first := m.Create()
	clock = clock.Add(time.Second)
	second := m.Create()
	clock = clock.Add(time.Second)
	third := m.Create()

	assert.Equal(t, 2, m.Count())
	_, ok := m.Get(first.ID)
	assert.False(t, ok, "least recently used session is evicted")
	_, ok = m.Get(second.ID)
	assert.True(t, ok)
	_, ok = m.Get(third.ID)
	assert.True(t, ok)
}

func TestDeleteAndClose(t *testing.T) {
	m, store, _ := newTestManager(t, 0)
	a := m.Create()
	b := m.Create()
	require.NoError(t, a.OCR.SelectImage("a.png", bytes.NewReader(testutil.PNG(1, 1))))
	require.NoError(t, b.OCR.SelectImage("b.png", bytes.NewReader(testutil.PNG(1, 1))))

	assert.True(t, m.Delete(a.ID))
	assert.False(t, m.Delete(a.ID))
	assert.Equal(t, 1, store.GetFileCount())

	m.Close()
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, store.GetFileCount())
}

func TestCloseWhileBusy(t *testing.T) {
	m, store, fake := newTestManager(t, 0)
	fake.Gate = make(chan struct{})
	s := m.Create()
	require.NoError(t, s.Judgments.SelectFiles([]judgments.Incoming{{Name: "a.pdf", Body: bytes.NewReader(testutil.PDF("a"))}}))
	s.Judgments.SetMetadata(models.CourtHigh, 2024, "March", false)
	require.NoError(t, s.OCR.SelectImage("a.png", bytes.NewReader(testutil.PNG(1, 1))))

	sub, err := s.Judgments.Prepare()
	require.NoError(t, err)
	ex, err := s.OCR.Prepare()
	require.NoError(t, err)

	m.Close()
	assert.False(t, s.Busy(), "close clears in-flight state")
	assert.Equal(t, 2, store.GetFileCount(), "in-flight requests keep their files")

	close(fake.Gate)
	sub.Run(context.Background())
	ex.Run(context.Background())

	assert.Equal(t, 0, store.GetFileCount(), "files are deleted once the requests finish")
}

func TestJobTracking(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	s := m.Create()

	assert.Empty(t, s.JobID("ocr"))

	s.SetJob("ocr", "job-1")
	s.SetJob("ocr", "job-2")
	s.SetJob("judgments", "job-3")

	assert.Equal(t, "job-2", s.JobID("ocr"))
	assert.Equal(t, "job-3", s.JobID("judgments"))
}

func TestMaxImageBytes(t *testing.T) {
	store := testutil.NewMockStorage()
	m := NewManager(Options{Store: store, MaxImageBytes: 16})
	s := m.Create()

	err := s.OCR.SelectImage("a.png", bytes.NewReader(testutil.PNG(4, 4)))

	assert.ErrorIs(t, err, ocr.ErrImageTooLarge)
	assert.Equal(t, 0, store.GetFileCount())
}
