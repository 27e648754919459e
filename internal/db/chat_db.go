package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

// ChatStore отвечает за долговременное хранение переписок и сообщений.
//
// Уникальность переписки по ключу (пара участников, товар) обеспечивает
// индекс в базе:
//
//	CREATE UNIQUE INDEX conversations_pair_product_key ON conversations (
//	    LEAST(sender_id, receiver_id),
//	    GREATEST(sender_id, receiver_id),
//	    COALESCE(product_id, '00000000-0000-0000-0000-000000000000')
//	);
type ChatStore struct {
	pool *pgxpool.Pool
}

// NewChatStore создает новый экземпляр ChatStore
func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

const conversationColumns = `id, product_id, sender_id, receiver_id, last_message_id, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conv models.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.ProductID,
		&conv.SenderID,
		&conv.ReceiverID,
		&conv.LastMessageID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения переписки: %w", err)
	}
	return &conv, nil
}

// GetConversation возвращает переписку по ID
func (s *ChatStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
        SELECT `+conversationColumns+` FROM conversations WHERE id = $1
    `, id)
	return scanConversation(row)
}

// FindConversation ищет переписку по паре участников и товару.
// Порядок участников не важен.
func (s *ChatStore) FindConversation(ctx context.Context, userA, userB uuid.UUID, productID *uuid.UUID) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
        SELECT `+conversationColumns+` FROM conversations
        WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
          AND product_id IS NOT DISTINCT FROM $3
    `, userA, userB, productID)
	return scanConversation(row)
}

// CreateConversation создает переписку, идемпотентно по ключу
// (пара участников, товар): при конкурентном создании обе стороны
// получат одну и ту же строку.
func (s *ChatStore) CreateConversation(ctx context.Context, senderID, receiverID uuid.UUID, productID *uuid.UUID) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	_, err := s.pool.Exec(ctx, `
        INSERT INTO conversations (id, product_id, sender_id, receiver_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT DO NOTHING
    `, uuid.New(), productID, senderID, receiverID, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания переписки: %w", err)
	}

	// Перечитываем строку: при конфликте вставки победила чужая запись
	return s.FindConversation(ctx, senderID, receiverID, productID)
}

// SaveMessage сохраняет новое сообщение и обновляет ссылку переписки
// на последнее сообщение в одной транзакции
func (s *ChatStore) SaveMessage(ctx context.Context, conversationID, senderID uuid.UUID, text string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	messageID := uuid.New()
	now := time.Now()

	_, err = tx.Exec(ctx, `
        INSERT INTO messages (id, conversation_id, sender_id, text, is_read, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, messageID, conversationID, senderID, text, false, now, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания сообщения: %w", err)
	}

	_, err = tx.Exec(ctx, `
        UPDATE conversations
        SET last_message_id = $1, updated_at = $2
        WHERE id = $3
    `, messageID, now, conversationID)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления информации о переписке: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return &models.Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		IsRead:         false,
		CreatedAt:      now,
		UpdatedAt:      now,
		Sender:         getUserInfo(ctx, s.pool, senderID),
	}, nil
}

// MarkMessagesRead отмечает прочитанными все сообщения переписки,
// отправленные не читателем. Флаг прочтения назад не откатывается.
func (s *ChatStore) MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
        UPDATE messages
        SET is_read = true, updated_at = $3
        WHERE conversation_id = $1 AND sender_id != $2 AND is_read = false
    `, conversationID, readerID, time.Now())
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса прочтения: %w", err)
	}
	return nil
}

// ListMessages возвращает сообщения переписки в порядке создания
// (старые первыми). Параметр before задает курсор пагинации.
func (s *ChatStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before *uuid.UUID) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows pgx.Rows
	var err error

	if before != nil {
		rows, err = s.pool.Query(ctx, `
            SELECT m.id, m.conversation_id, m.sender_id, m.text, m.is_read, m.created_at, m.updated_at
            FROM messages m
            WHERE m.conversation_id = $1
              AND m.created_at < (SELECT created_at FROM messages WHERE id = $2)
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT $3
        `, conversationID, *before, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
            SELECT m.id, m.conversation_id, m.sender_id, m.text, m.is_read, m.created_at, m.updated_at
            FROM messages m
            WHERE m.conversation_id = $1
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT $2
        `, conversationID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса сообщений: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Text,
			&msg.IsRead,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		); err != nil {
			log.Printf("Ошибка сканирования сообщения: %v", err)
			continue
		}
		msg.Sender = getUserInfo(ctx, s.pool, msg.SenderID)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения сообщений: %w", err)
	}

	// Разворачиваем в хронологический порядок
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListConversations возвращает переписки пользователя, самые свежие
// первыми, с количеством непрочитанных сообщений и данными собеседника
func (s *ChatStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
        SELECT c.id, c.product_id, c.sender_id, c.receiver_id, c.last_message_id, c.created_at, c.updated_at,
               COUNT(m.id) FILTER (WHERE m.sender_id != $1 AND m.is_read = false) AS unread_count
        FROM conversations c
        LEFT JOIN messages m ON c.id = m.conversation_id
        WHERE c.sender_id = $1 OR c.receiver_id = $1
        GROUP BY c.id
        ORDER BY c.updated_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса переписок: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(
			&conv.ID,
			&conv.ProductID,
			&conv.SenderID,
			&conv.ReceiverID,
			&conv.LastMessageID,
			&conv.CreatedAt,
			&conv.UpdatedAt,
			&conv.UnreadCount,
		); err != nil {
			log.Printf("Ошибка сканирования переписки: %v", err)
			continue
		}

		// Получаем данные собеседника (не текущего пользователя)
		if conv.SenderID == userID {
			conv.Receiver = getUserInfo(ctx, s.pool, conv.ReceiverID)
		} else {
			conv.Sender = getUserInfo(ctx, s.pool, conv.SenderID)
		}

		if conv.LastMessageID != nil {
			conv.LastMessage = s.getMessage(ctx, *conv.LastMessageID)
		}

		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения переписок: %w", err)
	}
	return conversations, nil
}

// UnreadCount возвращает общее число непрочитанных сообщений пользователя
func (s *ChatStore) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	err := s.pool.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE (c.sender_id = $1 OR c.receiver_id = $1)
          AND m.sender_id != $1 AND m.is_read = false
    `, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета непрочитанных сообщений: %w", err)
	}
	return count, nil
}

// getMessage получает одно сообщение; ошибки не фатальны для выборки списка
func (s *ChatStore) getMessage(ctx context.Context, id uuid.UUID) *models.Message {
	var msg models.Message
	err := s.pool.QueryRow(ctx, `
        SELECT id, conversation_id, sender_id, text, is_read, created_at, updated_at
        FROM messages WHERE id = $1
    `, id).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Text,
		&msg.IsRead,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		log.Printf("Ошибка получения сообщения %s: %v", id, err)
		return nil
	}
	return &msg
}
