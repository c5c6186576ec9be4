package valueobjects

import (
	"fmt"

	pkgerrors "loci/pkg/errors"
)

// LocusType distinguishes the two kinds of container a content item can sit in.
type LocusType string

const (
	LocusNexus    LocusType = "nexus"
	LocusNotebook LocusType = "notebook"
)

// ParseLocusType validates a raw locus type.
func ParseLocusType(raw string) (LocusType, error) {
	switch LocusType(raw) {
	case LocusNexus, LocusNotebook:
		return LocusType(raw), nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown locus type %q", raw))
	}
}

// ContentType names the kind of record a content item points at.
type ContentType string

const (
	ContentChunk               ContentType = "chunk"
	ContentNotebook            ContentType = "notebook"
	ContentTag                 ContentType = "tag"
	ContentConversationMessage ContentType = "conversationMessage"
)

// AllContentTypes lists every content type in a stable order.
var AllContentTypes = []ContentType{
	ContentChunk,
	ContentNotebook,
	ContentTag,
	ContentConversationMessage,
}

// ParseContentType validates a raw content type.
func ParseContentType(raw string) (ContentType, error) {
	for _, ct := range AllContentTypes {
		if string(ct) == raw {
			return ct, nil
		}
	}
	return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown content type %q", raw))
}

// Valid reports whether c is one of the known content types.
func (c ContentType) Valid() bool {
	_, err := ParseContentType(string(c))
	return err == nil
}

// OrderKey identifies one ordered sibling list: a locus plus an optional parent.
type OrderKey struct {
	LocusID  string
	ParentID string
}

func (k OrderKey) String() string {
	if k.ParentID == "" {
		return k.LocusID
	}
	return k.LocusID + "/" + k.ParentID
}
