package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestConversationParticipants(t *testing.T) {
	conv := Conversation{SenderID: uuid.New(), ReceiverID: uuid.New()}

	pair := conv.Participants()
	assert.Equal(t, [2]uuid.UUID{conv.SenderID, conv.ReceiverID}, pair)

	assert.True(t, conv.HasParticipant(conv.SenderID))
	assert.True(t, conv.HasParticipant(conv.ReceiverID))
	assert.False(t, conv.HasParticipant(uuid.New()))
}
