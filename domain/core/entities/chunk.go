package entities

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"loci/domain/config"
	pkgerrors "loci/pkg/errors"
)

// ChunkType is the presentation kind of a chunk.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkCode     ChunkType = "code"
	ChunkDocument ChunkType = "document"
)

// ParseChunkType validates a raw chunk type; empty means text.
func ParseChunkType(raw string) (ChunkType, error) {
	switch ChunkType(raw) {
	case "":
		return ChunkText, nil
	case ChunkText, ChunkCode, ChunkDocument:
		return ChunkType(raw), nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown chunk type %q", raw))
	}
}

// Chunk is an atomic piece of content inside a notebook.
type Chunk struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebookId"`
	Text       string    `json:"text"`
	ChunkType  ChunkType `json:"chunkType"`
	MetaTagID  string    `json:"metaTagId,omitempty"`
	OwnerID    string    `json:"ownerId,omitempty"`
	// ShadowOf is set on the duplicate created by a ChunkConnection.
	ShadowOf string `json:"shadowOf,omitempty"`
	// Deprecated: ordering lives in ContentItem.
	Order float64 `json:"order,omitempty"`
	Timestamps
}

func (c *Chunk) RecordKind() Kind { return KindChunk }
func (c *Chunk) RecordID() string { return c.ID }
func (c *Chunk) Owner() string    { return c.OwnerID }

// IsShadow reports whether the chunk is a connection's duplicate.
func (c *Chunk) IsShadow() bool { return c.ShadowOf != "" }

// NewChunk validates and builds a chunk.
func NewChunk(cfg *config.DomainConfig, notebookID, text string, chunkType ChunkType, metaTagID, ownerID string, now time.Time) (*Chunk, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if strings.TrimSpace(notebookID) == "" {
		return nil, pkgerrors.NewValidationError("notebook id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, pkgerrors.NewValidationError("chunk text cannot be empty")
	}
	if utf8.RuneCountInString(text) > cfg.MaxChunkLength {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("chunk text exceeds %d characters", cfg.MaxChunkLength))
	}
	return &Chunk{
		ID:         NewID(),
		NotebookID: notebookID,
		Text:       text,
		ChunkType:  chunkType,
		MetaTagID:  metaTagID,
		OwnerID:    ownerID,
		Timestamps: newTimestamps(now),
	}, nil
}

// ShadowInto copies the chunk into another notebook as a shadow.
func (c *Chunk) ShadowInto(notebookID, ownerID string, now time.Time) *Chunk {
	return &Chunk{
		ID:         NewID(),
		NotebookID: notebookID,
		Text:       c.Text,
		ChunkType:  c.ChunkType,
		OwnerID:    ownerID,
		ShadowOf:   c.ID,
		Timestamps: newTimestamps(now),
	}
}

// ChunkTag links a chunk to a tag.
type ChunkTag struct {
	ChunkID   string    `json:"chunkId"`
	TagID     string    `json:"tagId"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (l *ChunkTag) RecordKind() Kind { return KindChunkTag }
func (l *ChunkTag) RecordID() string { return l.ChunkID + "#" + l.TagID }
func (l *ChunkTag) Owner() string    { return l.OwnerID }

// Conduit is a directed link between two chunks.
type Conduit struct {
	ID            string    `json:"id"`
	SourceChunkID string    `json:"sourceChunkId"`
	TargetChunkID string    `json:"targetChunkId"`
	Label         string    `json:"label,omitempty"`
	OwnerID       string    `json:"ownerId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (c *Conduit) RecordKind() Kind { return KindConduit }
func (c *Conduit) RecordID() string { return c.ID }
func (c *Conduit) Owner() string    { return c.OwnerID }

// Jem marks a chunk as a favorite.
type Jem struct {
	ID        string    `json:"id"`
	ChunkID   string    `json:"chunkId"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (j *Jem) RecordKind() Kind { return KindJem }
func (j *Jem) RecordID() string { return j.ID }
func (j *Jem) Owner() string    { return j.OwnerID }

// Attachment is a file reference hung off a chunk.
type Attachment struct {
	ID         string    `json:"id"`
	ChunkID    string    `json:"chunkId"`
	FileName   string    `json:"fileName"`
	StorageKey string    `json:"storageKey"`
	MimeType   string    `json:"mimeType,omitempty"`
	OwnerID    string    `json:"ownerId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (a *Attachment) RecordKind() Kind { return KindAttachment }
func (a *Attachment) RecordID() string { return a.ID }
func (a *Attachment) Owner() string    { return a.OwnerID }

// ChunkConnection shadows a source chunk into another notebook. It owns the
// shadow chunk and the shadow's content item in the target locus. At most one
// connection exists per (source chunk, target notebook) pair.
type ChunkConnection struct {
	ID               string    `json:"id"`
	SourceChunkID    string    `json:"sourceChunkId"`
	TargetNotebookID string    `json:"targetNotebookId"`
	ShadowChunkID    string    `json:"shadowChunkId"`
	ShadowItemID     string    `json:"shadowItemId"`
	OwnerID          string    `json:"ownerId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (c *ChunkConnection) RecordKind() Kind { return KindChunkConnection }
func (c *ChunkConnection) RecordID() string { return c.ID }
func (c *ChunkConnection) Owner() string    { return c.OwnerID }
