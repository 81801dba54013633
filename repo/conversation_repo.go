package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/nodeforge/gatewayflow/conversation"
)

// ConversationRepository implements conversation.Store against the
// gw_conversation_sessions/gw_conversation_messages tables.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository constructs a ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// ReserveTurnIndexes implements conversation.Store: it atomically bumps
// the session's next_turn_index by count and returns the first index of
// the reserved block, creating the session row on first use.
func (r *ConversationRepository) ReserveTurnIndexes(ctx context.Context, sessionID string, count int) (int, error) {
	var first int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session ConversationSession
		err := tx.Where("id = ?", sessionID).First(&session).Error
		if err != nil {
			// gorm.ErrRecordNotFound: create a fresh session starting at turn 0
			session = ConversationSession{ID: sessionID, CreatedAt: time.Now()}
			if createErr := tx.Create(&session).Error; createErr != nil {
				return fmt.Errorf("repo: creating session %q: %w", sessionID, createErr)
			}
		}

		first = session.NextTurnIndex
		return tx.Model(&ConversationSession{}).
			Where("id = ?", sessionID).
			Update("next_turn_index", first+count).Error
	})
	if err != nil {
		return 0, err
	}
	return first, nil
}

// AppendMessages implements conversation.Store: persists messages and
// bumps the session's message_count/last_active_at in one transaction.
func (r *ConversationRepository) AppendMessages(ctx context.Context, sessionID string, messages []conversation.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := make([]ConversationMessageRow, 0, len(messages))
		for _, m := range messages {
			rows = append(rows, ConversationMessageRow{
				ID:            ulid.Make().String(),
				SessionID:     m.SessionID,
				TurnIndex:     m.TurnIndex,
				Role:          m.Role,
				Content:       m.Content,
				UsedPersonaID: m.UsedPersonaID,
				CreatedAt:     m.CreatedAt,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("repo: appending messages for session %q: %w", sessionID, err)
		}

		return tx.Model(&ConversationSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]any{
				"message_count":  gorm.Expr("message_count + ?", len(messages)),
				"last_active_at": time.Now(),
			}).Error
	})
}
