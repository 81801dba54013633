// Package conversation persists conversation turns for the internal
// channel: atomic turn-index reservation, transactional message writes,
// and idle-triggered session summarisation.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Message is one persisted turn in a conversation session.
type Message struct {
	SessionID     string
	TurnIndex     int
	Role          string
	Content       string
	UsedPersonaID string
	CreatedAt     time.Time
}

// Store is the repository surface conversation needs; the repo package
// owns the actual ORM/transaction details.
type Store interface {
	// ReserveTurnIndexes atomically reserves count consecutive turn
	// indexes for session, returning the first reserved index.
	ReserveTurnIndexes(ctx context.Context, sessionID string, count int) (firstIndex int, err error)
	// AppendMessages persists messages and updates the session's
	// message_count and last_active_at in one transaction.
	AppendMessages(ctx context.Context, sessionID string, messages []Message) error
}

// SummaryScheduler debounces an idle-summariser task per session: each new
// message cancels any pending timer and reschedules it; the task fires
// once no further message arrives within the idle window.
type SummaryScheduler struct {
	idleWindow time.Duration
	onFire     func(sessionID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewSummaryScheduler constructs a SummaryScheduler. onFire is invoked
// (in its own goroutine) when a session has gone idle.
func NewSummaryScheduler(idleWindow time.Duration, onFire func(sessionID string)) *SummaryScheduler {
	return &SummaryScheduler{
		idleWindow: idleWindow,
		onFire:     onFire,
		timers:     make(map[string]*time.Timer),
	}
}

// Touch cancels any pending summarisation timer for session and starts a
// fresh one, debouncing against further activity.
func (s *SummaryScheduler) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
	}
	s.timers[sessionID] = time.AfterFunc(s.idleWindow, func() {
		s.mu.Lock()
		delete(s.timers, sessionID)
		s.mu.Unlock()
		s.onFire(sessionID)
	})
}

// Cancel stops any pending timer for session without firing it, e.g. when
// the session is deleted.
func (s *SummaryScheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// Appender reserves turn indexes and writes a full turn (user messages
// plus the assistant reply) in one call, annotating the assistant message
// with the persona that produced it.
type Appender struct {
	store     Store
	scheduler *SummaryScheduler
}

// NewAppender constructs an Appender.
func NewAppender(store Store, scheduler *SummaryScheduler) *Appender {
	return &Appender{store: store, scheduler: scheduler}
}

// AppendTurn reserves len(userContents)+1 turn indexes, persists the user
// message(s) followed by the assistant reply tagged with usedPersonaID,
// and reschedules the session's idle-summariser debounce.
func (a *Appender) AppendTurn(ctx context.Context, sessionID string, userContents []string, assistantContent, usedPersonaID string) error {
	if len(userContents) == 0 {
		return fmt.Errorf("conversation: at least one user message required")
	}

	count := len(userContents) + 1
	first, err := a.store.ReserveTurnIndexes(ctx, sessionID, count)
	if err != nil {
		return fmt.Errorf("conversation: reserving turn indexes: %w", err)
	}

	now := time.Now()
	messages := make([]Message, 0, count)
	for i, content := range userContents {
		messages = append(messages, Message{
			SessionID: sessionID,
			TurnIndex: first + i,
			Role:      "user",
			Content:   content,
			CreatedAt: now,
		})
	}
	messages = append(messages, Message{
		SessionID:     sessionID,
		TurnIndex:     first + len(userContents),
		Role:          "assistant",
		Content:       assistantContent,
		UsedPersonaID: usedPersonaID,
		CreatedAt:     now,
	})

	if err := a.store.AppendMessages(ctx, sessionID, messages); err != nil {
		return fmt.Errorf("conversation: appending messages: %w", err)
	}

	if a.scheduler != nil {
		a.scheduler.Touch(sessionID)
	}
	return nil
}
