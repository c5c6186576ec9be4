package entities

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"loci/domain/config"
	pkgerrors "loci/pkg/errors"
)

// Nexus is a top-level knowledge domain. Its ID doubles as a locus ID for
// the notebooks it holds.
type Nexus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// OwnerID is a user ID, or a guest session token for guest nexi.
	OwnerID string `json:"ownerId,omitempty"`
	// IsGuest marks a nexus owned by an anonymous session.
	IsGuest bool `json:"isGuest,omitempty"`
	// IsShared exempts the whole subtree from per-record owner checks.
	IsShared bool `json:"isShared,omitempty"`
	// Deprecated: ordering lives in ContentItem.
	Order float64 `json:"order,omitempty"`
	Timestamps
}

func (n *Nexus) RecordKind() Kind { return KindNexus }
func (n *Nexus) RecordID() string { return n.ID }
func (n *Nexus) Owner() string    { return n.OwnerID }

// NewNexus validates and builds a nexus.
func NewNexus(cfg *config.DomainConfig, name, description, ownerID string, guest bool, now time.Time) (*Nexus, error) {
	name, err := validateName(cfg, "nexus name", name)
	if err != nil {
		return nil, err
	}
	return &Nexus{
		ID:          NewID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		OwnerID:     ownerID,
		IsGuest:     guest,
		Timestamps:  newTimestamps(now),
	}, nil
}

// Notebook is a focused container within a nexus; it is the locus for
// chunks, tags and conversation messages.
type Notebook struct {
	ID      string `json:"id"`
	NexusID string `json:"nexusId"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId,omitempty"`
	// Deprecated: ordering lives in ContentItem.
	Order float64 `json:"order,omitempty"`
	Timestamps
}

func (n *Notebook) RecordKind() Kind { return KindNotebook }
func (n *Notebook) RecordID() string { return n.ID }
func (n *Notebook) Owner() string    { return n.OwnerID }

// NewNotebook validates and builds a notebook.
func NewNotebook(cfg *config.DomainConfig, nexusID, name, ownerID string, now time.Time) (*Notebook, error) {
	if strings.TrimSpace(nexusID) == "" {
		return nil, pkgerrors.NewValidationError("nexus id is required")
	}
	name, err := validateName(cfg, "notebook name", name)
	if err != nil {
		return nil, err
	}
	return &Notebook{
		ID:         NewID(),
		NexusID:    nexusID,
		Name:       name,
		OwnerID:    ownerID,
		Timestamps: newTimestamps(now),
	}, nil
}

func validateName(cfg *config.DomainConfig, field, name string) (string, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", pkgerrors.NewValidationError(fmt.Sprintf("%s cannot be empty", field))
	}
	if utf8.RuneCountInString(name) > cfg.MaxNameLength {
		return "", pkgerrors.NewValidationError(fmt.Sprintf("%s exceeds %d characters", field, cfg.MaxNameLength))
	}
	return name, nil
}
