package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/internal/ttlstate"
	"github.com/convohq/automation/pkg/schema"
)

func TestResolveOwner_FromEvent(t *testing.T) {
	r := NewResolver(collab.NewMemoryConversations(), collab.NewStaticEntitlements("owner-1", "owner-2"), nil)

	owner, err := r.ResolveOwner(context.Background(), &schema.EventRecord{OwnerRef: "owner-1"})
	require.NoError(t, err)
	assert.Equal(t, "owner-1", owner)
}

func TestResolveOwner_FromConversation(t *testing.T) {
	convs := collab.NewMemoryConversations()
	convs.Put(&collab.Conversation{ID: "conv-1", OwnerID: "owner-2"})
	r := NewResolver(convs, collab.NewStaticEntitlements("owner-1", "owner-2"), nil)

	owner, err := r.ResolveOwner(context.Background(), &schema.EventRecord{ConversationRef: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, "owner-2", owner)
}

func TestResolveOwner_NoReference(t *testing.T) {
	r := NewResolver(collab.NewMemoryConversations(), collab.NewStaticEntitlements("owner-1", "owner-2"), nil)

	_, err := r.ResolveOwner(context.Background(), &schema.EventRecord{})
	require.Error(t, err)
	var aerr *schema.AutomationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeValidation, aerr.Code)
}

func TestCheckOwnership(t *testing.T) {
	assert.NoError(t, CheckOwnership("owner-1", "owner-1"))

	err := CheckOwnership("owner-1", "owner-2")
	require.Error(t, err)
	var aerr *schema.AutomationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeOwnership, aerr.Code)

	// Empty owners never match anything.
	assert.Error(t, CheckOwnership("", ""))
}

func TestCheckEntitlement_DeniedAndCached(t *testing.T) {
	ents := &collab.StaticEntitlements{}
	cache := ttlstate.New(time.Minute)
	r := NewResolver(collab.NewMemoryConversations(), ents, cache)

	err := r.CheckEntitlement(context.Background(), "owner-1")
	require.Error(t, err)
	var aerr *schema.AutomationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeEntitlement, aerr.Code)

	// The denial is served from cache: flipping the source does not help
	// until the TTL expires.
	ents.Active = map[string]bool{"owner-1": true}
	err = r.CheckEntitlement(context.Background(), "owner-1")
	assert.Error(t, err)
}

func TestCheckEntitlement_CollaboratorFailureDenies(t *testing.T) {
	ents := &collab.StaticEntitlements{Err: errors.New("billing api down")}
	r := NewResolver(collab.NewMemoryConversations(), ents, nil)

	err := r.CheckEntitlement(context.Background(), "owner-1")
	require.Error(t, err)
	var aerr *schema.AutomationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, schema.ErrCodeEntitlement, aerr.Code)
}
