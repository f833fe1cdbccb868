package tenant

import (
	"context"
	"time"

	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/internal/ttlstate"
	"github.com/convohq/automation/pkg/schema"
)

// entitlementTTL bounds how long a positive or negative subscription check
// is trusted before asking the billing collaborator again.
const entitlementTTL = 5 * time.Minute

// Resolver answers ownership and entitlement questions for incoming events.
// Every workflow match and every side effect is scoped to a single owner;
// a cross-owner reference is always a hard failure, never a fallback.
type Resolver struct {
	conversations collab.ConversationDirectory
	entitlements  collab.Entitlements
	cache         *ttlstate.Store
}

func NewResolver(conversations collab.ConversationDirectory, entitlements collab.Entitlements, cache *ttlstate.Store) *Resolver {
	return &Resolver{conversations: conversations, entitlements: entitlements, cache: cache}
}

// ResolveOwner determines the owning tenant of an event. The event's own
// owner reference wins; otherwise the conversation record is consulted.
func (r *Resolver) ResolveOwner(ctx context.Context, event *schema.EventRecord) (string, error) {
	if event.OwnerRef != "" {
		return event.OwnerRef, nil
	}
	if event.ConversationRef == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "event has neither owner nor conversation reference")
	}
	conv, err := r.conversations.Get(ctx, event.ConversationRef)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeCollaborator, "resolve conversation owner").WithCause(err)
	}
	if conv.OwnerID == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "conversation %s has no owner", event.ConversationRef)
	}
	return conv.OwnerID, nil
}

// CheckOwnership verifies that a resource owner matches the acting owner.
func CheckOwnership(actingOwner, resourceOwner string) error {
	if actingOwner == "" || resourceOwner == "" || actingOwner != resourceOwner {
		return schema.NewErrorf(schema.ErrCodeOwnership,
			"owner %q cannot act on resources of owner %q", actingOwner, resourceOwner)
	}
	return nil
}

// CheckEntitlement verifies the owner has an active subscription. Results
// are cached briefly so one event burst does not hammer the billing API.
// Collaborator failures deny: automation never runs for an owner whose
// entitlement cannot be confirmed.
func (r *Resolver) CheckEntitlement(ctx context.Context, ownerID string) error {
	key := "entitled:" + ownerID
	if r.cache != nil {
		if active, ok := r.cache.GetBool(key); ok {
			if active {
				return nil
			}
			return entitlementDenied(ownerID)
		}
	}

	active, err := r.entitlements.IsActive(ctx, ownerID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeEntitlement,
			"entitlement check failed for owner %s", ownerID).WithCause(err)
	}
	if r.cache != nil {
		r.cache.Set(key, active, entitlementTTL)
	}
	if !active {
		return entitlementDenied(ownerID)
	}
	return nil
}

func entitlementDenied(ownerID string) error {
	return schema.NewErrorf(schema.ErrCodeEntitlement, "owner %s has no active subscription", ownerID)
}
