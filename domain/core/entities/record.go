package entities

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a stored record collection.
type Kind string

const (
	KindNexus               Kind = "NEXUS"
	KindNotebook            Kind = "NOTEBOOK"
	KindChunk               Kind = "CHUNK"
	KindTag                 Kind = "TAG"
	KindChunkTag            Kind = "CHUNK_TAG"
	KindConduit             Kind = "CONDUIT"
	KindJem                 Kind = "JEM"
	KindAttachment          Kind = "ATTACHMENT"
	KindChunkConnection     Kind = "CHUNK_CONNECTION"
	KindConversation        Kind = "CONVERSATION"
	KindConversationMessage Kind = "CONVERSATION_MESSAGE"
	KindContentItem         Kind = "CONTENT_ITEM"
	KindUser                Kind = "USER"
	KindShardTransaction    Kind = "SHARD_TRANSACTION"
	KindModelPricing        Kind = "MODEL_PRICING"
)

// Record is anything the unit of work can persist or delete.
type Record interface {
	RecordKind() Kind
	RecordID() string
}

// RecordRef identifies a record without carrying its body.
type RecordRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// RefOf returns the reference for a record.
func RefOf(r Record) RecordRef {
	return RecordRef{Kind: r.RecordKind(), ID: r.RecordID()}
}

func (r RecordRef) String() string {
	return string(r.Kind) + "#" + r.ID
}

// NewID generates an opaque record identifier.
func NewID() string {
	return uuid.NewString()
}

// Timestamps is embedded by records that track creation and update times.
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newTimestamps(now time.Time) Timestamps {
	return Timestamps{CreatedAt: now.UTC(), UpdatedAt: now.UTC()}
}

// Owned is implemented by records that carry an optional owner.
type Owned interface {
	Owner() string
}
