package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/appforge/appforge/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &domain.SessionRecord{
		ID:         "sess-1",
		Name:       "Todo App",
		WorkingDir: "/workspace",
	}

	// Create
	if err := s.CreateSession(ctx, rec); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Get
	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Name != "Todo App" {
		t.Errorf("Name = %q, want %q", got.Name, "Todo App")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want it populated")
	}

	// List
	recs, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("ListSessions len = %d, want 1", len(recs))
	}

	// Delete
	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, "sess-1"); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing session, got nil")
	}
}

func TestTranscriptPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateSession(ctx, &domain.SessionRecord{ID: "sess-1", Name: "test"})

	for i := 0; i < 5; i++ {
		msg := domain.Message{
			ID:        uuid.New().String(),
			SessionID: "sess-1",
			Sender:    domain.SenderUser,
			Kind:      domain.KindChat,
			Text:      fmt.Sprintf("msg-%d", i),
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	msgs, err := s.GetMessages(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("GetMessages len = %d, want 5", len(msgs))
	}
	for i, m := range msgs {
		if want := fmt.Sprintf("msg-%d", i); m.Text != want {
			t.Errorf("msgs[%d].Text = %q, want %q", i, m.Text, want)
		}
	}
}

func TestTranscriptLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateSession(ctx, &domain.SessionRecord{ID: "sess-1", Name: "test"})

	for i := 0; i < 5; i++ {
		s.AppendMessage(ctx, domain.Message{
			ID:        uuid.New().String(),
			SessionID: "sess-1",
			Sender:    domain.SenderAgent,
			Kind:      domain.KindChat,
			Text:      fmt.Sprintf("msg-%d", i),
		})
	}

	limited, err := s.GetMessages(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("GetMessages limit: %v", err)
	}
	if len(limited) != 3 {
		t.Fatalf("GetMessages limited len = %d, want 3", len(limited))
	}
	// Should be the last 3, still in chronological order.
	if limited[0].Text != "msg-2" || limited[2].Text != "msg-4" {
		t.Errorf("limited = [%q .. %q], want [msg-2 .. msg-4]", limited[0].Text, limited[2].Text)
	}
}

func TestTranscriptKindsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateSession(ctx, &domain.SessionRecord{ID: "sess-1", Name: "test"})

	kinds := []domain.MessageKind{domain.KindChat, domain.KindActionEcho, domain.KindError}
	for _, kind := range kinds {
		s.AppendMessage(ctx, domain.Message{
			ID:        uuid.New().String(),
			SessionID: "sess-1",
			Sender:    domain.SenderAgent,
			Kind:      kind,
			Text:      "x",
		})
	}

	msgs, err := s.GetMessages(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	for i, kind := range kinds {
		if msgs[i].Kind != kind {
			t.Errorf("msgs[%d].Kind = %q, want %q", i, msgs[i].Kind, kind)
		}
	}
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateSession(ctx, &domain.SessionRecord{ID: "sess-1", Name: "test"})
	s.AppendMessage(ctx, domain.Message{
		ID: uuid.New().String(), SessionID: "sess-1",
		Sender: domain.SenderUser, Kind: domain.KindChat, Text: "hello",
	})

	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	msgs, err := s.GetMessages(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages after delete = %d, want 0", len(msgs))
	}
}
