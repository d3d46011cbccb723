package timeline

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T, limit int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat_history.json")
	return NewStore(path, limit, discardLogger())
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t, 20)

	msgs := []Message{
		{ID: "1", Sender: SenderUser, Body: "hi", Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "2", Sender: SenderBot, Body: "hello", Language: "en"},
	}
	if err := s.Save(msgs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load()
	if len(got) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(got))
	}
	if got[0].Body != "hi" || got[0].Sender != SenderUser {
		t.Errorf("got[0] = %+v", got[0])
	}
	if !got[0].Timestamp.Equal(msgs[0].Timestamp) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, msgs[0].Timestamp)
	}
	if got[1].Language != "en" {
		t.Errorf("language = %s, want en", got[1].Language)
	}
}

func TestStoreTruncatesToLimit(t *testing.T) {
	s := testStore(t, 20)

	msgs := make([]Message, 25)
	for i := range msgs {
		msgs[i] = Message{ID: fmt.Sprintf("%d", i)}
	}
	if err := s.Save(msgs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load()
	if len(got) != 20 {
		t.Fatalf("loaded %d messages, want 20", len(got))
	}
	if got[0].ID != "5" || got[19].ID != "24" {
		t.Errorf("kept window [%s..%s], want [5..24]", got[0].ID, got[19].ID)
	}
}

func TestStoreMissingFile(t *testing.T) {
	s := testStore(t, 20)
	if got := s.Load(); got != nil {
		t.Errorf("Load on missing file = %v, want nil", got)
	}
}

func TestStoreCorruptFileDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, 20, discardLogger())
	if got := s.Load(); got != nil {
		t.Errorf("Load on corrupt file = %v, want nil", got)
	}
}

func TestStoreDelete(t *testing.T) {
	s := testStore(t, 20)
	if err := s.Save([]Message{{ID: "1"}}); err != nil {
		t.Fatal(err)
	}

	s.Delete()
	s.Delete() // gone already, still fine

	if got := s.Load(); got != nil {
		t.Errorf("Load after delete = %v, want nil", got)
	}
}
