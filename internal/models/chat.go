package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation представляет переписку между двумя пользователями
// по поводу конкретного товара. Состав участников фиксируется при
// создании и больше не меняется.
type Conversation struct {
	ID            uuid.UUID  `json:"id"`
	ProductID     *uuid.UUID `json:"product_id,omitempty"`
	SenderID      uuid.UUID  `json:"sender_id"`
	ReceiverID    uuid.UUID  `json:"receiver_id"`
	LastMessageID *uuid.UUID `json:"last_message_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Дополнительные поля для API
	Sender      *User    `json:"sender,omitempty"`
	Receiver    *User    `json:"receiver,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count,omitempty"`
}

// Participants возвращает пару участников переписки
func (c *Conversation) Participants() [2]uuid.UUID {
	return [2]uuid.UUID{c.SenderID, c.ReceiverID}
}

// HasParticipant проверяет, является ли пользователь участником переписки
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.SenderID == userID || c.ReceiverID == userID
}

// Message представляет сообщение в переписке. Сообщение неизменяемо
// после создания, кроме флага прочтения (переход только false -> true).
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Text           string    `json:"text"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Дополнительные поля для API
	Sender *User `json:"sender,omitempty"`
}
