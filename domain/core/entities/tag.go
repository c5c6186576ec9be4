package entities

import (
	"strings"
	"time"

	"loci/domain/config"
	pkgerrors "loci/pkg/errors"
)

// Tag is a hierarchical label scoped to a notebook.
type Tag struct {
	ID          string `json:"id"`
	NotebookID  string `json:"notebookId"`
	Name        string `json:"name"`
	ParentTagID string `json:"parentTagId,omitempty"`
	Color       string `json:"color,omitempty"`
	OwnerID     string `json:"ownerId,omitempty"`
	// Deprecated: ordering lives in ContentItem.
	Order float64 `json:"order,omitempty"`
	Timestamps
}

func (t *Tag) RecordKind() Kind { return KindTag }
func (t *Tag) RecordID() string { return t.ID }
func (t *Tag) Owner() string    { return t.OwnerID }

// NewTag validates and builds a tag.
func NewTag(cfg *config.DomainConfig, notebookID, name, parentTagID, ownerID string, now time.Time) (*Tag, error) {
	if strings.TrimSpace(notebookID) == "" {
		return nil, pkgerrors.NewValidationError("notebook id is required")
	}
	name, err := validateName(cfg, "tag name", name)
	if err != nil {
		return nil, err
	}
	return &Tag{
		ID:          NewID(),
		NotebookID:  notebookID,
		Name:        name,
		ParentTagID: parentTagID,
		OwnerID:     ownerID,
		Timestamps:  newTimestamps(now),
	}, nil
}
