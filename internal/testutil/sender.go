package testutil

import (
	"context"
	"sync"
)

// SentNotification is one call captured by RecordingSender.
type SentNotification struct {
	Token string
	Title string
	Body  string
}

// RecordingSender captures notifications instead of delivering them.
// Tokens registered with FailFor return the given error.
type RecordingSender struct {
	mu    sync.Mutex
	sent  []SentNotification
	fails map[string]error
}

// NewRecordingSender returns an empty RecordingSender.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{fails: make(map[string]error)}
}

// FailFor makes every send to token fail with err.
func (s *RecordingSender) FailFor(token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[token] = err
}

func (s *RecordingSender) SendNotification(_ context.Context, token, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fails[token]; ok {
		return err
	}
	s.sent = append(s.sent, SentNotification{Token: token, Title: title, Body: body})
	return nil
}

// Sent returns a copy of every successful send, in call order.
func (s *RecordingSender) Sent() []SentNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentNotification(nil), s.sent...)
}

// Reset forgets recorded sends.
func (s *RecordingSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
