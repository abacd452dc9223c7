package facade

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olaf-mesh/neighbourhood/internal/errs"
)

// StoredMessage is one line of the local append-only message log that backs
// GET /get_messages.
type StoredMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Public    bool      `json:"public"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStore is a JSONL-backed log of every message this client has sent
// or received, read in full on every GET /get_messages (the history a
// single client accumulates never approaches a size where that matters).
type MessageStore struct {
	path string

	mu       sync.Mutex
	messages []StoredMessage
}

// NewMessageStore loads path if it exists and returns a store appending to
// it. path may be empty, in which case the store is in-memory only.
func NewMessageStore(path string) (*MessageStore, error) {
	s := &MessageStore{path: path}
	if path == "" {
		return s, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errs.Storage("failed to open message store", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg StoredMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		s.messages = append(s.messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Storage("failed to read message store", err)
	}
	return s, nil
}

// Append records a new message, assigning it a fresh ID, and persists it.
func (s *MessageStore) Append(sender, message string, public bool, ts time.Time) StoredMessage {
	msg := StoredMessage{ID: uuid.NewString(), Sender: sender, Message: message, Public: public, Timestamp: ts}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if s.path == "" {
		return msg
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return msg
	}
	defer f.Close()
	line, err := json.Marshal(msg)
	if err != nil {
		return msg
	}
	line = append(line, '\n')
	_, _ = f.Write(line)
	return msg
}

// All returns every message currently held, oldest first.
func (s *MessageStore) All() []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
