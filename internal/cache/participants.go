package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

const (
	keyPrefix  = "conversation:participants:"
	defaultTTL = 10 * time.Minute
)

// ConversationSource загружает переписку из хранилища при промахе кэша
type ConversationSource interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
}

// ParticipantCache кэширует состав участников переписки в Redis по
// схеме cache-aside. Состав участников неизменяем после создания
// переписки, поэтому инвалидация не нужна: записи просто истекают.
// Ошибки Redis не фатальны: кэш деградирует до прямого запроса в базу.
type ParticipantCache struct {
	client *redis.Client
	source ConversationSource
	ttl    time.Duration
}

// NewParticipantCache создает новый экземпляр ParticipantCache.
// Если client равен nil, все запросы идут напрямую в хранилище.
func NewParticipantCache(client *redis.Client, source ConversationSource) *ParticipantCache {
	return &ParticipantCache{
		client: client,
		source: source,
		ttl:    defaultTTL,
	}
}

// Participants возвращает пару участников переписки, из кэша или из
// хранилища. Для несуществующей переписки возвращает models.ErrNotFound.
func (c *ParticipantCache) Participants(ctx context.Context, conversationID uuid.UUID) ([2]uuid.UUID, error) {
	var participants [2]uuid.UUID

	if c.client != nil {
		data, err := c.client.Get(ctx, keyPrefix+conversationID.String()).Bytes()
		if err == nil {
			if err := json.Unmarshal(data, &participants); err == nil {
				return participants, nil
			}
			log.Printf("Поврежденная запись кэша участников %s, перечитываем из базы", conversationID)
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("Ошибка чтения кэша участников: %v", err)
		}
	}

	conv, err := c.source.GetConversation(ctx, conversationID)
	if err != nil {
		return participants, err
	}
	participants = conv.Participants()

	if c.client != nil {
		data, err := json.Marshal(participants)
		if err == nil {
			if err := c.client.Set(ctx, keyPrefix+conversationID.String(), data, c.ttl).Err(); err != nil {
				log.Printf("Ошибка записи кэша участников: %v", err)
			}
		}
	}

	return participants, nil
}
