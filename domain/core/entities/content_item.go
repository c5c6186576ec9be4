package entities

import (
	"sort"
	"time"

	"loci/domain/core/valueobjects"
)

// ContentItem places one piece of content at a position within a locus.
// Positions are unique only within (LocusID, ParentID) and are not
// guaranteed dense; readers always sort.
type ContentItem struct {
	ID          string                   `json:"id"`
	LocusID     string                   `json:"locusId"`
	LocusType   valueobjects.LocusType   `json:"locusType"`
	ContentType valueobjects.ContentType `json:"contentType"`
	ContentID   string                   `json:"contentId"`
	Position    int                      `json:"position"`
	ParentID    string                   `json:"parentId,omitempty"`
	OwnerID     string                   `json:"ownerId,omitempty"`
	Timestamps
}

func (c *ContentItem) RecordKind() Kind { return KindContentItem }
func (c *ContentItem) RecordID() string { return c.ID }
func (c *ContentItem) Owner() string    { return c.OwnerID }

// OrderKey returns the sibling list the item belongs to.
func (c *ContentItem) OrderKey() valueobjects.OrderKey {
	return valueobjects.OrderKey{LocusID: c.LocusID, ParentID: c.ParentID}
}

// NewContentItem builds an item at the given position.
func NewContentItem(
	locusID string,
	locusType valueobjects.LocusType,
	contentType valueobjects.ContentType,
	contentID string,
	parentID string,
	ownerID string,
	position int,
	now time.Time,
) *ContentItem {
	return &ContentItem{
		ID:          NewID(),
		LocusID:     locusID,
		LocusType:   locusType,
		ContentType: contentType,
		ContentID:   contentID,
		Position:    position,
		ParentID:    parentID,
		OwnerID:     ownerID,
		Timestamps:  newTimestamps(now),
	}
}

// MoveTo relocates the item and stamps the update time.
func (c *ContentItem) MoveTo(locusID string, locusType valueobjects.LocusType, parentID string, position int, now time.Time) {
	c.LocusID = locusID
	c.LocusType = locusType
	c.ParentID = parentID
	c.Position = position
	c.UpdatedAt = now.UTC()
}

// SortContentItems orders items by position. Ties fall back to creation
// time and then ID so the result is deterministic.
func SortContentItems(items []*ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// MaxPosition returns the highest position among items, or -1 when empty.
func MaxPosition(items []*ContentItem) int {
	highest := -1
	for _, item := range items {
		if item.Position > highest {
			highest = item.Position
		}
	}
	return highest
}
