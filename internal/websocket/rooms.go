package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

const roomShardCount = 16

// ParticipantResolver возвращает пару участников переписки.
// Реализуется Redis-кэшем поверх хранилища.
type ParticipantResolver func(ctx context.Context, conversationID uuid.UUID) ([2]uuid.UUID, error)

// RoomManager ведет комнаты: отображение переписки на множество
// соединений, подписанных на ее события. Подписка явная (join) и не
// зависит от реестра присутствия. Соединение попадает в комнату только
// если его пользователь участник переписки.
type RoomManager struct {
	shards  [roomShardCount]roomShard
	resolve ParticipantResolver

	// Обратный индекс: соединение -> комнаты, в которых оно состоит.
	// Нужен, чтобы LeaveAll обходил только комнаты соединения, а не все.
	connMu sync.Mutex
	byConn map[uuid.UUID]map[uuid.UUID]struct{}
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[uuid.UUID]*Client
}

// NewRoomManager создает новый экземпляр RoomManager
func NewRoomManager(resolve ParticipantResolver) *RoomManager {
	r := &RoomManager{
		resolve: resolve,
		byConn:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
	for i := range r.shards {
		r.shards[i].rooms = make(map[uuid.UUID]map[uuid.UUID]*Client)
	}
	return r
}

func (r *RoomManager) shard(conversationID uuid.UUID) *roomShard {
	return &r.shards[int(conversationID[0])%roomShardCount]
}

// Join подписывает соединение на комнату переписки. Повторный join
// является no-op. Для не-участника возвращает models.ErrNotAuthorized,
// для несуществующей переписки models.ErrNotFound.
func (r *RoomManager) Join(ctx context.Context, conversationID uuid.UUID, client *Client) error {
	participants, err := r.resolve(ctx, conversationID)
	if err != nil {
		return err
	}
	if participants[0] != client.UserID && participants[1] != client.UserID {
		return fmt.Errorf("%w: пользователь %s не участник переписки %s",
			models.ErrNotAuthorized, client.UserID, conversationID)
	}

	shard := r.shard(conversationID)
	shard.mu.Lock()
	room, ok := shard.rooms[conversationID]
	if !ok {
		room = make(map[uuid.UUID]*Client)
		shard.rooms[conversationID] = room
	}
	room[client.ID] = client
	shard.mu.Unlock()

	r.connMu.Lock()
	joined, ok := r.byConn[client.ID]
	if !ok {
		joined = make(map[uuid.UUID]struct{})
		r.byConn[client.ID] = joined
	}
	joined[conversationID] = struct{}{}
	r.connMu.Unlock()

	return nil
}

// Leave отписывает соединение от комнаты; пустая комната удаляется
func (r *RoomManager) Leave(conversationID uuid.UUID, client *Client) {
	r.removeFromRoom(conversationID, client.ID)

	r.connMu.Lock()
	if joined, ok := r.byConn[client.ID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.byConn, client.ID)
		}
	}
	r.connMu.Unlock()
}

// LeaveAll отписывает соединение от всех его комнат. Вызывается при
// отключении; повторный вызов безопасен. Сложность пропорциональна
// числу комнат соединения.
func (r *RoomManager) LeaveAll(client *Client) {
	r.connMu.Lock()
	joined := r.byConn[client.ID]
	delete(r.byConn, client.ID)
	r.connMu.Unlock()

	for conversationID := range joined {
		r.removeFromRoom(conversationID, client.ID)
	}
}

// MembersOf возвращает срез соединений, подписанных на комнату
// (снимок на момент вызова)
func (r *RoomManager) MembersOf(conversationID uuid.UUID) []*Client {
	shard := r.shard(conversationID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	room := shard.rooms[conversationID]
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

func (r *RoomManager) removeFromRoom(conversationID, clientID uuid.UUID) {
	shard := r.shard(conversationID)
	shard.mu.Lock()
	if room, ok := shard.rooms[conversationID]; ok {
		delete(room, clientID)
		if len(room) == 0 {
			delete(shard.rooms, conversationID)
		}
	}
	shard.mu.Unlock()
}
