package entities

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "loci/pkg/errors"
)

// Conversation is an LLM chat thread scoped to a notebook.
type Conversation struct {
	ID         string `json:"id"`
	NotebookID string `json:"notebookId"`
	Title      string `json:"title"`
	OwnerID    string `json:"ownerId,omitempty"`
	Timestamps
}

func (c *Conversation) RecordKind() Kind { return KindConversation }
func (c *Conversation) RecordID() string { return c.ID }
func (c *Conversation) Owner() string    { return c.OwnerID }

// NewConversation builds a conversation.
func NewConversation(notebookID, title, ownerID string, now time.Time) (*Conversation, error) {
	if strings.TrimSpace(notebookID) == "" {
		return nil, pkgerrors.NewValidationError("notebook id is required")
	}
	return &Conversation{
		ID:         NewID(),
		NotebookID: notebookID,
		Title:      strings.TrimSpace(title),
		OwnerID:    ownerID,
		Timestamps: newTimestamps(now),
	}, nil
}

// MessageRole is the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ConversationMessage is one turn in a conversation.
type ConversationMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Text           string      `json:"text"`
	OwnerID        string      `json:"ownerId,omitempty"`
	// Deprecated: ordering lives in ContentItem.
	Order float64 `json:"order,omitempty"`
	Timestamps
}

func (m *ConversationMessage) RecordKind() Kind { return KindConversationMessage }
func (m *ConversationMessage) RecordID() string { return m.ID }
func (m *ConversationMessage) Owner() string    { return m.OwnerID }

// NewConversationMessage validates and builds a message.
func NewConversationMessage(conversationID string, role MessageRole, text, ownerID string, now time.Time) (*ConversationMessage, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, pkgerrors.NewValidationError("conversation id is required")
	}
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("unknown message role %q", role))
	}
	if strings.TrimSpace(text) == "" {
		return nil, pkgerrors.NewValidationError("message text cannot be empty")
	}
	return &ConversationMessage{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		OwnerID:        ownerID,
		Timestamps:     newTimestamps(now),
	}, nil
}
