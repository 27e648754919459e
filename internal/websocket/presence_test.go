package websocket

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

func newTestClient(userID uuid.UUID) *Client {
	c := newClient(&models.User{ID: userID}, nil, nil)
	c.setState(StateActive)
	return c
}

func TestPresenceRegisterDeregister(t *testing.T) {
	p := NewPresenceRegistry()
	userID := uuid.New()

	first := newTestClient(userID)
	second := newTestClient(userID)

	assert.False(t, p.IsOnline(userID))
	assert.Empty(t, p.ConnectionsFor(userID))

	assert.True(t, p.Register(first), "first connection must flip user online")
	assert.False(t, p.Register(second), "second connection must not re-flip")

	assert.True(t, p.IsOnline(userID))
	assert.Len(t, p.ConnectionsFor(userID), 2)

	assert.False(t, p.Deregister(first), "user still has a live connection")
	assert.True(t, p.IsOnline(userID))

	assert.True(t, p.Deregister(second), "last connection must flip user offline")
	assert.False(t, p.IsOnline(userID))
	assert.Empty(t, p.ConnectionsFor(userID))
}

func TestPresenceDeregisterIsIdempotent(t *testing.T) {
	p := NewPresenceRegistry()
	client := newTestClient(uuid.New())

	p.Register(client)
	assert.True(t, p.Deregister(client))
	assert.False(t, p.Deregister(client), "repeated deregister must be a no-op")
	assert.False(t, p.IsOnline(client.UserID))
}

func TestPresenceHooksFireOncePerTransition(t *testing.T) {
	p := NewPresenceRegistry()
	userID := uuid.New()

	var online, offline int32
	p.OnOnline = func(uuid.UUID, uint64) { atomic.AddInt32(&online, 1) }
	p.OnOffline = func(uuid.UUID, uint64) { atomic.AddInt32(&offline, 1) }

	first := newTestClient(userID)
	second := newTestClient(userID)

	p.Register(first)
	p.Register(second)
	p.Deregister(first)
	p.Deregister(second)
	p.Deregister(second)

	assert.Equal(t, int32(1), atomic.LoadInt32(&online))
	assert.Equal(t, int32(1), atomic.LoadInt32(&offline))
}

func TestPresenceConcurrentConnectDisconnect(t *testing.T) {
	p := NewPresenceRegistry()
	userID := uuid.New()

	var online, offline int32
	p.OnOnline = func(uuid.UUID, uint64) { atomic.AddInt32(&online, 1) }
	p.OnOffline = func(uuid.UUID, uint64) { atomic.AddInt32(&offline, 1) }

	const workers = 64
	clients := make([]*Client, workers)
	for i := range clients {
		clients[i] = newTestClient(userID)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			p.Register(c)
			p.Deregister(c)
			p.Deregister(c)
		}(c)
	}
	wg.Wait()

	// После того как все соединения закрылись, пользователь оффлайн,
	// а количество переходов туда и обратно совпадает
	require.False(t, p.IsOnline(userID))
	require.Empty(t, p.ConnectionsFor(userID))
	assert.Equal(t, atomic.LoadInt32(&online), atomic.LoadInt32(&offline))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&online), int32(1))
}

func TestPresenceIsolatesUsers(t *testing.T) {
	p := NewPresenceRegistry()

	alice := newTestClient(uuid.New())
	bob := newTestClient(uuid.New())

	p.Register(alice)
	p.Register(bob)
	p.Deregister(alice)

	assert.False(t, p.IsOnline(alice.UserID))
	assert.True(t, p.IsOnline(bob.UserID))
}

func TestPresenceTransitionSeqMatchesOrder(t *testing.T) {
	p := NewPresenceRegistry()
	userID := uuid.New()

	type transition struct {
		online bool
		seq    uint64
	}
	var mu sync.Mutex
	var transitions []transition
	record := func(online bool) func(uuid.UUID, uint64) {
		return func(_ uuid.UUID, seq uint64) {
			mu.Lock()
			transitions = append(transitions, transition{online: online, seq: seq})
			mu.Unlock()
		}
	}
	p.OnOnline = record(true)
	p.OnOffline = record(false)

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(userID)
			p.Register(c)
			p.Deregister(c)
		}()
	}
	wg.Wait()

	// Номера переходов восстанавливают их реальный порядок: онлайн и
	// оффлайн строго чередуются, начиная с онлайна
	sort.Slice(transitions, func(i, j int) bool { return transitions[i].seq < transitions[j].seq })
	require.NotEmpty(t, transitions)
	require.Equal(t, 0, len(transitions)%2)
	for i, tr := range transitions {
		assert.Equal(t, i%2 == 0, tr.online, "transition %d out of order", i)
	}
}
