package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"speech-session-service/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := OpenSQLite(context.Background(), "file:"+filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreate_Pending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}
	if sess.Status != models.StatusPending {
		t.Errorf("expected pending, got %s", sess.Status)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusPending || got.TranscribedText != "" || got.CompletedAt != nil {
		t.Errorf("unexpected stored session %+v", got)
	}
}

func TestAppendTranscript_MovesToRecording(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := s.Create(ctx)

	if err := s.AppendTranscript(ctx, sess.ID, "hello "); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	if err := s.AppendTranscript(ctx, sess.ID, "hello world "); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}

	got, _ := s.Get(ctx, sess.ID)
	if got.Status != models.StatusRecording {
		t.Errorf("expected recording, got %s", got.Status)
	}
	if got.TranscribedText != "hello world " {
		t.Errorf("unexpected transcript %q", got.TranscribedText)
	}
}

func TestAppendTranscript_RejectsRewrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := s.Create(ctx)

	s.AppendTranscript(ctx, sess.ID, "hello world")
	err := s.AppendTranscript(ctx, sess.ID, "goodbye")
	if !errors.Is(err, ErrTranscriptRewrite) {
		t.Errorf("expected ErrTranscriptRewrite, got %v", err)
	}

	got, _ := s.Get(ctx, sess.ID)
	if got.TranscribedText != "hello world" {
		t.Errorf("expected stored text unchanged, got %q", got.TranscribedText)
	}
}

func TestAppendTranscript_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendTranscript(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	sess, _ := s.Create(ctx)
	s.Complete(ctx, sess.ID)
	if err := s.AppendTranscript(ctx, sess.ID, "late"); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("expected ErrSessionCompleted, got %v", err)
	}
}

func TestComplete_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := s.Create(ctx)

	if err := s.Complete(ctx, sess.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	first, _ := s.Get(ctx, sess.ID)
	if first.Status != models.StatusCompleted || first.CompletedAt == nil {
		t.Fatalf("expected completed session with completedAt, got %+v", first)
	}

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	if err := s.Complete(ctx, sess.ID); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	second, _ := s.Get(ctx, sess.ID)
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("expected completedAt unchanged, got %v then %v", first.CompletedAt, second.CompletedAt)
	}

	if err := s.Complete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_OrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		sess, err := s.Create(ctx)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, sess.ID)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	for i, id := range ids {
		if list[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
