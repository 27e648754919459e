package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

// fakeStore представляет хранилище в памяти для тестов диспетчера
type fakeStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*models.Conversation
	messages      []models.Message
	markReadCalls int
	createCalls   int32
	createDelay   time.Duration

	failSave     bool
	failMarkRead bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{conversations: make(map[uuid.UUID]*models.Conversation)}
}

func (s *fakeStore) addConversation(a, b uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := &models.Conversation{ID: uuid.New(), SenderID: a, ReceiverID: b}
	s.conversations[conv.ID] = conv
	return conv.ID
}

func (s *fakeStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return conv, nil
}

func (s *fakeStore) FindConversation(ctx context.Context, userA, userB uuid.UUID, productID *uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		pairMatch := (conv.SenderID == userA && conv.ReceiverID == userB) ||
			(conv.SenderID == userB && conv.ReceiverID == userA)
		productMatch := (conv.ProductID == nil && productID == nil) ||
			(conv.ProductID != nil && productID != nil && *conv.ProductID == *productID)
		if pairMatch && productMatch {
			return conv, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *fakeStore) CreateConversation(ctx context.Context, senderID, receiverID uuid.UUID, productID *uuid.UUID) (*models.Conversation, error) {
	atomic.AddInt32(&s.createCalls, 1)
	if s.createDelay > 0 {
		time.Sleep(s.createDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := &models.Conversation{ID: uuid.New(), SenderID: senderID, ReceiverID: receiverID, ProductID: productID}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *fakeStore) SaveMessage(ctx context.Context, conversationID, senderID uuid.UUID, text string) (*models.Message, error) {
	if s.failSave {
		return nil, errors.New("database is down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      time.Now(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID) error {
	if s.failMarkRead {
		return errors.New("database is down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadCalls++
	return nil
}

func storeResolver(s *fakeStore) ParticipantResolver {
	return func(ctx context.Context, conversationID uuid.UUID) ([2]uuid.UUID, error) {
		conv, err := s.GetConversation(ctx, conversationID)
		if err != nil {
			return [2]uuid.UUID{}, err
		}
		return conv.Participants(), nil
	}
}

func newTestDispatcher(store *fakeStore) (*Dispatcher, *PresenceRegistry, *RoomManager) {
	presence := NewPresenceRegistry()
	rooms := NewRoomManager(storeResolver(store))
	return NewDispatcher(store, presence, rooms, storeResolver(store)), presence, rooms
}

// drainEvents считывает все события, накопившиеся в очереди соединения
func drainEvents(t *testing.T, c *Client) []OutboundEvent {
	t.Helper()
	var events []OutboundEvent
	for {
		select {
		case data := <-c.send:
			var ev OutboundEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventTypes(events []OutboundEvent) []EventType {
	types := make([]EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestSendMessageFanout(t *testing.T) {
	store := newFakeStore()
	alice, bob := uuid.New(), uuid.New()
	conv := store.addConversation(alice, bob)

	d, presence, rooms := newTestDispatcher(store)
	ctx := context.Background()

	// Два устройства Алисы в комнате, третье онлайн, но не в комнате
	aliceJoined := newTestClient(alice)
	aliceOther := newTestClient(alice)
	aliceAbsent := newTestClient(alice)
	// Боб онлайн, но не подписан на комнату
	bobAbsent := newTestClient(bob)

	for _, c := range []*Client{aliceJoined, aliceOther, aliceAbsent, bobAbsent} {
		presence.Register(c)
	}
	require.NoError(t, rooms.Join(ctx, conv, aliceJoined))
	require.NoError(t, rooms.Join(ctx, conv, aliceOther))

	message, err := d.SendMessage(ctx, alice, conv, "привет")
	require.NoError(t, err)
	require.NotNil(t, message)
	assert.Equal(t, "привет", message.Text)
	assert.Len(t, store.messages, 1, "exactly one message row must be persisted")

	// Все подписанные на комнату соединения получают полное событие
	assert.Equal(t, []EventType{EventNewMessage}, eventTypes(drainEvents(t, aliceJoined)))
	assert.Equal(t, []EventType{EventNewMessage}, eventTypes(drainEvents(t, aliceOther)))

	// Боб не в комнате, но онлайн: получает облегченное уведомление
	bobEvents := drainEvents(t, bobAbsent)
	require.Equal(t, []EventType{EventMessageNotification}, eventTypes(bobEvents))
	payload, ok := bobEvents[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, conv.String(), payload["conversation_id"])

	// Неподписанные соединения отправителя не уведомляются
	assert.Empty(t, drainEvents(t, aliceAbsent))
}

func TestSendMessageEmptyBody(t *testing.T) {
	store := newFakeStore()
	alice, bob := uuid.New(), uuid.New()
	conv := store.addConversation(alice, bob)

	d, _, _ := newTestDispatcher(store)

	_, err := d.SendMessage(context.Background(), alice, conv, "   ")
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, store.messages)
}

func TestSendMessageNonParticipant(t *testing.T) {
	store := newFakeStore()
	conv := store.addConversation(uuid.New(), uuid.New())

	d, _, _ := newTestDispatcher(store)

	_, err := d.SendMessage(context.Background(), uuid.New(), conv, "hi")
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	assert.Empty(t, store.messages)
}

func TestSendMessageUnknownConversation(t *testing.T) {
	store := newFakeStore()
	d, _, _ := newTestDispatcher(store)

	_, err := d.SendMessage(context.Background(), uuid.New(), uuid.New(), "hi")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestSendMessagePersistenceFailureBlocksBroadcast(t *testing.T) {
	store := newFakeStore()
	alice, bob := uuid.New(), uuid.New()
	conv := store.addConversation(alice, bob)

	d, presence, rooms := newTestDispatcher(store)
	ctx := context.Background()

	member := newTestClient(bob)
	presence.Register(member)
	require.NoError(t, rooms.Join(ctx, conv, member))

	store.failSave = true
	_, err := d.SendMessage(ctx, alice, conv, "hello")

	require.ErrorIs(t, err, models.ErrPersistence)
	assert.Empty(t, store.messages, "nothing may be persisted")
	assert.Empty(t, drainEvents(t, member), "nothing may be broadcast")
}

func TestTypingExcludesSender(t *testing.T) {
	store := newFakeStore()
	alice, bob := uuid.New(), uuid.New()
	conv := store.addConversation(alice, bob)

	d, _, rooms := newTestDispatcher(store)
	ctx := context.Background()

	sender := newTestClient(alice)
	aliceOther := newTestClient(alice)
	bobClient := newTestClient(bob)

	require.NoError(t, rooms.Join(ctx, conv, sender))
	require.NoError(t, rooms.Join(ctx, conv, aliceOther))
	require.NoError(t, rooms.Join(ctx, conv, bobClient))

	d.Typing(sender, conv, true)

	assert.Empty(t, drainEvents(t, sender), "no echo to the typing connection")
	assert.Equal(t, []EventType{EventUserTyping}, eventTypes(drainEvents(t, aliceOther)))
	assert.Equal(t, []EventType{EventUserTyping}, eventTypes(drainEvents(t, bobClient)))
}

func TestTypingRequiresRoomMembership(t *testing.T) {
	store := newFakeStore()
	alice, bob := uuid.New(), uuid.New()
	conv := store.addConversation(alice, bob)

	d, _, rooms := newTestDispatcher(store)
	ctx := context.Background()

	member := newTestClient(bob)
	require.NoError(t, rooms.Join(ctx, conv, member))

	// Участник переписки, но его соединение не подписано на комнату:
	// сигнал отбрасывается, подписчики ничего не получают
	outsider := newTestClient(alice)
	d.Typing(outsider, conv, true)

	assert.Empty(t, drainEvents(t, member))
}

func TestTypingEmptyRoomIsSilent(t *testing.T) {
	store := newFakeStore()
	d, _, _ := newTestDispatcher(store)

	// Пустая комната: сигнал молча отбрасывается
	d.Typing(newTestClient(uuid.New()), uuid.New(), true)
}

func TestJoinConversationMarksRead(t *testing.T) {
	store := newFakeStore()
	alice, bob := uuid.New(), uuid.New()
	conv := store.addConversation(alice, bob)

	d, _, rooms := newTestDispatcher(store)
	client := newTestClient(alice)

	require.NoError(t, d.JoinConversation(context.Background(), client, conv))
	assert.Len(t, rooms.MembersOf(conv), 1)
	assert.Equal(t, 1, store.markReadCalls)
}

func TestJoinConversationMarkReadFailure(t *testing.T) {
	store := newFakeStore()
	alice, bob := uuid.New(), uuid.New()
	conv := store.addConversation(alice, bob)

	d, _, rooms := newTestDispatcher(store)
	client := newTestClient(alice)

	store.failMarkRead = true
	err := d.JoinConversation(context.Background(), client, conv)

	// Отказ хранилища не проглатывается: вызывающий получает
	// типизированную ошибку, но подписка на комнату остается
	require.ErrorIs(t, err, models.ErrPersistence)
	assert.Len(t, rooms.MembersOf(conv), 1)

	// Повторный join после восстановления хранилища добивает отметку
	store.failMarkRead = false
	require.NoError(t, d.JoinConversation(context.Background(), client, conv))
	assert.Equal(t, 1, store.markReadCalls)
}

func TestJoinConversationNotAuthorized(t *testing.T) {
	store := newFakeStore()
	conv := store.addConversation(uuid.New(), uuid.New())

	d, _, rooms := newTestDispatcher(store)
	intruder := newTestClient(uuid.New())

	err := d.JoinConversation(context.Background(), intruder, conv)
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	assert.Empty(t, rooms.MembersOf(conv))
	assert.Zero(t, store.markReadCalls)
}

func TestCreateOrGetConversationIdempotent(t *testing.T) {
	store := newFakeStore()
	d, _, _ := newTestDispatcher(store)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()

	first, err := d.CreateOrGetConversation(ctx, alice, bob, nil)
	require.NoError(t, err)

	// Второй вызов с переставленными участниками находит ту же переписку
	second, err := d.CreateOrGetConversation(ctx, bob, alice, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.createCalls))
}

func TestCreateOrGetConversationConcurrent(t *testing.T) {
	store := newFakeStore()
	store.createDelay = 20 * time.Millisecond
	d, _, _ := newTestDispatcher(store)

	alice, bob := uuid.New(), uuid.New()
	product := uuid.New()

	const callers = 8
	results := make([]*models.Conversation, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.CreateOrGetConversation(context.Background(), alice, bob, &product)
		}(i)
	}
	wg.Wait()

	for i, conv := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, conv)
		assert.Equal(t, results[0].ID, conv.ID, "all callers must converge on one conversation")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.createCalls))
}

func TestCreateOrGetConversationSelf(t *testing.T) {
	store := newFakeStore()
	d, _, _ := newTestDispatcher(store)

	user := uuid.New()
	_, err := d.CreateOrGetConversation(context.Background(), user, user, nil)
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	store := newFakeStore()
	alice, bob := uuid.New(), uuid.New()
	conv := store.addConversation(alice, bob)

	d, presence, rooms := newTestDispatcher(store)
	ctx := context.Background()

	var offline int32
	presence.OnOffline = func(uuid.UUID, uint64) { atomic.AddInt32(&offline, 1) }

	client := newTestClient(alice)
	presence.Register(client)
	require.NoError(t, rooms.Join(ctx, conv, client))

	d.Disconnect(client)
	d.Disconnect(client)

	assert.False(t, presence.IsOnline(alice))
	assert.Empty(t, rooms.MembersOf(conv))
	assert.Equal(t, int32(1), atomic.LoadInt32(&offline), "offline transition must fire once")
}
