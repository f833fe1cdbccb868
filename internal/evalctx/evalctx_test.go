package evalctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/pkg/schema"
)

func TestBuild_FullContext(t *testing.T) {
	customers := collab.NewMemoryCustomers()
	customers.Put("owner-1", &collab.Customer{
		ID:         "user-1",
		Name:       "Ada",
		Tags:       []string{"vip"},
		Attributes: map[string]any{"city": "Paris"},
	})
	convs := collab.NewMemoryConversations()
	convs.Put(&collab.Conversation{
		ID: "conv-1", OwnerID: "owner-1", Channel: "whatsapp",
		Status: collab.ConversationAutomated, MessageCount: 4,
	})

	b := NewBuilder(customers, convs, nil)
	got := b.Build(context.Background(), "owner-1", &schema.EventRecord{
		ID:              "e-1",
		Type:            schema.EventMessageReceived,
		Payload:         map[string]any{"content": "hello there", "channel": "whatsapp"},
		UserRef:         "user-1",
		ConversationRef: "conv-1",
	})

	assert.Equal(t, "hello there", got["message_content"])
	assert.Equal(t, "whatsapp", got["channel"])
	assert.NotEmpty(t, got["now"])

	ev, ok := got["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "message_received", ev["type"])

	user, ok := got["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", user["name"])
	assert.Equal(t, "Paris", user["city"])
	assert.Equal(t, []string{"vip"}, user["tags"])

	conv, ok := got["conversation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "whatsapp", conv["channel"])
	assert.Equal(t, 4, conv["message_count"])
}

func TestBuild_UnresolvableRefsDegrade(t *testing.T) {
	b := NewBuilder(collab.NewMemoryCustomers(), collab.NewMemoryConversations(), nil)

	got := b.Build(context.Background(), "owner-1", &schema.EventRecord{
		ID:              "e-1",
		Type:            schema.EventMessageReceived,
		UserRef:         "ghost",
		ConversationRef: "nowhere",
	})

	user, ok := got["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "ghost"}, user)

	conv, ok := got["conversation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "nowhere"}, conv)
}

func TestBuild_NoRefs(t *testing.T) {
	b := NewBuilder(collab.NewMemoryCustomers(), collab.NewMemoryConversations(), nil)

	got := b.Build(context.Background(), "owner-1", &schema.EventRecord{
		ID:   "e-1",
		Type: schema.EventSchedule,
	})

	assert.Equal(t, map[string]any{}, got["user"])
	assert.Equal(t, map[string]any{}, got["conversation"])
	assert.Equal(t, "", got["message_content"])
}
