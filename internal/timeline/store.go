package timeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store persists the anonymous-mode timeline to a fixed file slot,
// truncated to the most recent limit entries. Authenticated sessions
// never write it; the server history is the source of truth there.
type Store struct {
	path   string
	limit  int
	logger *slog.Logger
}

// NewStore creates a store writing to path, keeping at most limit
// messages.
func NewStore(path string, limit int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, limit: limit, logger: logger}
}

// Limit returns the retention cap.
func (s *Store) Limit() int {
	return s.limit
}

// Load reads the persisted timeline. A missing file yields an empty
// sequence; a corrupt file is discarded with a log line rather than
// failing startup.
func (s *Store) Load() []Message {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read chat history", "path", s.path, "error", err)
		}
		return nil
	}

	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.logger.Warn("discarding corrupt chat history", "path", s.path, "error", err)
		return nil
	}

	if s.limit > 0 && len(msgs) > s.limit {
		msgs = msgs[len(msgs)-s.limit:]
	}
	return msgs
}

// Save writes the timeline, keeping only the most recent entries.
func (s *Store) Save(msgs []Message) error {
	if s.limit > 0 && len(msgs) > s.limit {
		msgs = msgs[len(msgs)-s.limit:]
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chat history: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}

// Delete removes the persisted history file.
func (s *Store) Delete() {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove chat history", "path", s.path, "error", err)
	}
}
