package cache

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bazario-api/internal/models"
)

type fakeConversationSource struct {
	conversations map[uuid.UUID]*models.Conversation
	calls         int
}

func (f *fakeConversationSource) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	f.calls++
	conv, ok := f.conversations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return conv, nil
}

func TestParticipantsWithoutRedis(t *testing.T) {
	conv := &models.Conversation{ID: uuid.New(), SenderID: uuid.New(), ReceiverID: uuid.New()}
	source := &fakeConversationSource{conversations: map[uuid.UUID]*models.Conversation{conv.ID: conv}}

	// nil-клиент: каждый запрос идет напрямую в хранилище
	c := NewParticipantCache(nil, source)

	got, err := c.Participants(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.Participants(), got)

	_, err = c.Participants(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestParticipantsUnknownConversation(t *testing.T) {
	source := &fakeConversationSource{conversations: map[uuid.UUID]*models.Conversation{}}
	c := NewParticipantCache(nil, source)

	_, err := c.Participants(context.Background(), uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)
}
