package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const presenceShardCount = 16

// PresenceRegistry ведет реестр присутствия: отображение пользователя на
// множество его живых соединений (несколько устройств/вкладок).
// Эфемерное состояние: при перезапуске процесса все пользователи
// считаются оффлайн.
//
// Операции над одним пользователем взаимно исключены блокировкой его
// шарда; операции над пользователями разных шардов не конкурируют.
type PresenceRegistry struct {
	shards [presenceShardCount]presenceShard

	// sequence нумерует переходы онлайн/оффлайн. Номер выдается под
	// блокировкой шарда, поэтому для одного пользователя порядок
	// номеров совпадает с порядком переходов.
	sequence atomic.Uint64

	// OnOnline вызывается при первом соединении пользователя,
	// OnOffline когда закрылось последнее. Хуки вызываются вне
	// блокировки шарда и ровно один раз на переход; seq позволяет
	// получателю отбросить хук, обогнанный более поздним переходом.
	OnOnline  func(userID uuid.UUID, seq uint64)
	OnOffline func(userID uuid.UUID, seq uint64)
}

type presenceShard struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[uuid.UUID]*Client
}

// NewPresenceRegistry создает новый экземпляр PresenceRegistry
func NewPresenceRegistry() *PresenceRegistry {
	p := &PresenceRegistry{}
	for i := range p.shards {
		p.shards[i].users = make(map[uuid.UUID]map[uuid.UUID]*Client)
	}
	return p
}

func (p *PresenceRegistry) shard(userID uuid.UUID) *presenceShard {
	return &p.shards[int(userID[0])%presenceShardCount]
}

// Register добавляет соединение в множество пользователя. Возвращает
// true, если это первое соединение (пользователь стал онлайн).
func (p *PresenceRegistry) Register(client *Client) bool {
	shard := p.shard(client.UserID)

	shard.mu.Lock()
	conns, ok := shard.users[client.UserID]
	if !ok {
		conns = make(map[uuid.UUID]*Client)
		shard.users[client.UserID] = conns
	}
	wentOnline := len(conns) == 0
	var seq uint64
	if wentOnline {
		seq = p.sequence.Add(1)
	}
	conns[client.ID] = client
	shard.mu.Unlock()

	if wentOnline && p.OnOnline != nil {
		p.OnOnline(client.UserID, seq)
	}
	return wentOnline
}

// Deregister удаляет соединение. Повторный вызов для того же
// соединения является no-op. Возвращает true, если множество пользователя
// опустело (пользователь стал оффлайн).
func (p *PresenceRegistry) Deregister(client *Client) bool {
	shard := p.shard(client.UserID)

	shard.mu.Lock()
	conns, ok := shard.users[client.UserID]
	wentOffline := false
	var seq uint64
	if ok {
		if _, present := conns[client.ID]; present {
			delete(conns, client.ID)
			if len(conns) == 0 {
				delete(shard.users, client.UserID)
				wentOffline = true
				seq = p.sequence.Add(1)
			}
		}
	}
	shard.mu.Unlock()

	if wentOffline && p.OnOffline != nil {
		p.OnOffline(client.UserID, seq)
	}
	return wentOffline
}

// IsOnline сообщает, есть ли у пользователя хотя бы одно живое соединение
func (p *PresenceRegistry) IsOnline(userID uuid.UUID) bool {
	shard := p.shard(userID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.users[userID]) > 0
}

// ConnectionsFor возвращает срез живых соединений пользователя
// (возможно пустой)
func (p *PresenceRegistry) ConnectionsFor(userID uuid.UUID) []*Client {
	shard := p.shard(userID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	conns := shard.users[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}
