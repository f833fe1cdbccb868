package collab

import (
	"context"
	"sync"
	"time"

	"github.com/convohq/automation/pkg/schema"
)

// In-memory collaborator implementations. Used in tests and in single-binary
// deployments where the chat subsystems run in the same process.

// MemoryMessenger records sends and handled marks. Err, when set, makes
// every Send fail.
type MemoryMessenger struct {
	mu      sync.Mutex
	Sent    []SentMessage
	Handled []string
	Err     error
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	Conversation string
	Content      string
}

func NewMemoryMessenger() *MemoryMessenger {
	return &MemoryMessenger{}
}

func (m *MemoryMessenger) Send(_ context.Context, conversation, content string) (SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return SendResult{}, m.Err
	}
	m.Sent = append(m.Sent, SentMessage{Conversation: conversation, Content: content})
	return SendResult{Success: true, ExternalID: "mem-" + conversation}, nil
}

func (m *MemoryMessenger) MarkHandled(_ context.Context, messageRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handled = append(m.Handled, messageRef)
	return nil
}

// SentTo returns the contents sent to a conversation, in order.
func (m *MemoryMessenger) SentTo(conversation string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.Sent {
		if s.Conversation == conversation {
			out = append(out, s.Content)
		}
	}
	return out
}

// AskedQuestion records one boolean question posed to a StaticAI.
type AskedQuestion struct {
	Prompt  string
	Message string
}

// StaticAI answers every boolean question with a fixed reply, or fails when
// Err is set. Useful for fail-closed tests.
type StaticAI struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Asked   []AskedQuestion
	Enabled map[string]bool
	Prompts map[string]string
}

func NewStaticAI(reply string) *StaticAI {
	return &StaticAI{
		Reply:   reply,
		Enabled: make(map[string]bool),
		Prompts: make(map[string]string),
	}
}

func (a *StaticAI) AskBoolean(_ context.Context, prompt, message string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Asked = append(a.Asked, AskedQuestion{Prompt: prompt, Message: message})
	if a.Err != nil {
		return "", a.Err
	}
	return a.Reply, nil
}

func (a *StaticAI) SetEnabled(_ context.Context, conversation string, enabled bool, _ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Enabled[conversation] = enabled
	return nil
}

func (a *StaticAI) SetCustomPrompt(_ context.Context, conversation, prompt string, _ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Prompts[conversation] = prompt
	return nil
}

// StaticEntitlements reports a fixed set of active owners. Err, when set,
// simulates a billing collaborator failure.
type StaticEntitlements struct {
	Active map[string]bool
	Err    error
}

func NewStaticEntitlements(activeOwners ...string) *StaticEntitlements {
	m := make(map[string]bool, len(activeOwners))
	for _, o := range activeOwners {
		m[o] = true
	}
	return &StaticEntitlements{Active: m}
}

func (e *StaticEntitlements) IsActive(_ context.Context, ownerID string) (bool, error) {
	if e.Err != nil {
		return false, e.Err
	}
	return e.Active[ownerID], nil
}

// MemoryCustomers is a tenant-scoped in-memory customer directory.
type MemoryCustomers struct {
	mu        sync.Mutex
	customers map[string]*Customer // key: ownerID + "/" + userRef
	notes     map[string][]string
}

func NewMemoryCustomers() *MemoryCustomers {
	return &MemoryCustomers{
		customers: make(map[string]*Customer),
		notes:     make(map[string][]string),
	}
}

func custKey(ownerID, userRef string) string { return ownerID + "/" + userRef }

// Put registers a customer under an owner.
func (d *MemoryCustomers) Put(ownerID string, c *Customer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customers[custKey(ownerID, c.ID)] = c
}

func (d *MemoryCustomers) Get(_ context.Context, ownerID, userRef string) (*Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[custKey(ownerID, userRef)]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "customer %s not found", userRef)
	}
	cp := *c
	cp.Tags = append([]string(nil), c.Tags...)
	return &cp, nil
}

func (d *MemoryCustomers) AddTag(_ context.Context, ownerID, userRef, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[custKey(ownerID, userRef)]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "customer %s not found", userRef)
	}
	for _, t := range c.Tags {
		if t == tag {
			return nil
		}
	}
	c.Tags = append(c.Tags, tag)
	return nil
}

func (d *MemoryCustomers) RemoveTag(_ context.Context, ownerID, userRef, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[custKey(ownerID, userRef)]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "customer %s not found", userRef)
	}
	out := c.Tags[:0]
	for _, t := range c.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	c.Tags = out
	return nil
}

func (d *MemoryCustomers) GetTags(_ context.Context, ownerID, userRef string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[custKey(ownerID, userRef)]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "customer %s not found", userRef)
	}
	return append([]string(nil), c.Tags...), nil
}

func (d *MemoryCustomers) UpdateAttributes(_ context.Context, ownerID, userRef string, attrs map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[custKey(ownerID, userRef)]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "customer %s not found", userRef)
	}
	if c.Attributes == nil {
		c.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		c.Attributes[k] = v
	}
	return nil
}

func (d *MemoryCustomers) AddNote(_ context.Context, ownerID, userRef, note string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := custKey(ownerID, userRef)
	if _, ok := d.customers[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "customer %s not found", userRef)
	}
	d.notes[key] = append(d.notes[key], note)
	return nil
}

// Notes returns the notes recorded for a customer.
func (d *MemoryCustomers) Notes(ownerID, userRef string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.notes[custKey(ownerID, userRef)]...)
}

// MemoryConversations is an in-memory conversation directory.
type MemoryConversations struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
}

func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{conversations: make(map[string]*Conversation)}
}

// Put registers a conversation.
func (d *MemoryConversations) Put(c *Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conversations[c.ID] = c
}

func (d *MemoryConversations) Get(_ context.Context, ref string) (*Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conversations[ref]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "conversation %s not found", ref)
	}
	cp := *c
	return &cp, nil
}

func (d *MemoryConversations) SetStatus(_ context.Context, ref, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conversations[ref]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "conversation %s not found", ref)
	}
	c.Status = status
	return nil
}
