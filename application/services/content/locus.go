package content

import (
	"context"

	"loci/application/ports"
	"loci/application/services/ordering"
	"loci/application/services/scoping"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// locus is a nexus or notebook resolved for a caller.
type locus struct {
	typ    valueobjects.LocusType
	shared bool
	// record is the container itself, nexusID the nexus it lives in.
	record  entities.Owned
	nexusID string
}

func (s *Service) resolveLocus(ctx context.Context, p valueobjects.Principal, locusID string) (*locus, error) {
	notebook, shared, err := s.guard.Notebook(ctx, p, locusID)
	if err == nil {
		return &locus{typ: valueobjects.LocusNotebook, shared: shared, record: notebook, nexusID: notebook.NexusID}, nil
	}
	if !pkgerrors.IsNotFound(err) {
		return nil, err
	}
	nexus, shared, err := s.guard.Nexus(ctx, p, locusID)
	if err != nil {
		return nil, err
	}
	return &locus{typ: valueobjects.LocusNexus, shared: shared, record: nexus, nexusID: nexus.ID}, nil
}

func (s *Service) writableLocus(ctx context.Context, p valueobjects.Principal, locusID string) (*locus, error) {
	l, err := s.resolveLocus(ctx, p, locusID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanModifyInNexus(ctx, p, l.record, l.nexusID); err != nil {
		return nil, err
	}
	return l, nil
}

// GetLocusContentItems lists a locus's sibling list with each item's
// content, dropping content the caller may not see.
func (s *Service) GetLocusContentItems(ctx context.Context, p valueobjects.Principal, locusID string, contentType *valueobjects.ContentType, parentID string) ([]ordering.EnrichedItem, error) {
	l, err := s.resolveLocus(ctx, p, locusID)
	if err != nil {
		return nil, err
	}
	enriched, err := s.ordering.GetLocusContentItems(ctx, locusID, contentType, parentID)
	if err != nil {
		return nil, err
	}

	visible := enriched[:0]
	for _, e := range enriched {
		owned, ok := e.Content.Record().(entities.Owned)
		if ok && !scoping.Visible(owned, p, l.shared) {
			continue
		}
		visible = append(visible, e)
	}
	return visible, nil
}

// ReorderLocusContentItems reorders one content type within a locus the
// caller may modify.
func (s *Service) ReorderLocusContentItems(ctx context.Context, p valueobjects.Principal, locusID string, contentType valueobjects.ContentType, orderedContentIDs []string, parentID string) error {
	if err := p.RequireAny(); err != nil {
		return err
	}
	if _, err := s.writableLocus(ctx, p, locusID); err != nil {
		return err
	}
	return s.ordering.ReorderContentItems(ctx, locusID, contentType, orderedContentIDs, parentID)
}

// MoveLocusContentItem moves a placement within or between loci the caller
// may modify, keeping the placed record consistent with where it now sits:
// a chunk moved to another notebook is rehomed there, a notebook moved to
// another nexus is rehomed there, and a tag moved under another parent tag
// is reparented. Tags and messages never leave their notebook, and messages
// stay under their conversation.
func (s *Service) MoveLocusContentItem(ctx context.Context, p valueobjects.Principal, req ordering.MoveRequest) (*entities.ContentItem, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	if req.NewPosition != nil && *req.NewPosition < 0 {
		return nil, pkgerrors.NewValidationError("newPosition must not be negative")
	}
	item, err := s.items.GetContentItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if _, err := s.writableLocus(ctx, p, item.LocusID); err != nil {
		return nil, err
	}
	dst, err := s.writableLocus(ctx, p, req.LocusID)
	if err != nil {
		return nil, err
	}
	if req.LocusType == "" {
		req.LocusType = dst.typ
	}
	if req.LocusType != dst.typ {
		return nil, pkgerrors.NewValidationError("newLocusType does not match the locus")
	}
	if want := locusTypeFor(item.ContentType); want != dst.typ {
		return nil, pkgerrors.NewValidationError(string(item.ContentType) + " items belong in a " + string(want))
	}

	var moved *entities.ContentItem
	err = s.write(ctx, "move_item", func(uow ports.UnitOfWork) error {
		fresh, err := s.items.GetContentItem(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if err := s.stageRehome(ctx, p, uow, fresh, req.Destination); err != nil {
			return err
		}
		if req.NewPosition != nil {
			moved, err = s.ordering.StageMoveAt(ctx, uow, fresh, req.Destination, *req.NewPosition)
		} else {
			moved, err = s.ordering.StageMove(ctx, uow, fresh, req.Destination, valueobjects.PlacementBottom)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// stageRehome updates the record an item places so it agrees with dst.
func (s *Service) stageRehome(ctx context.Context, p valueobjects.Principal, uow ports.UnitOfWork, item *entities.ContentItem, dst ordering.Destination) error {
	now := s.clock.Now()
	switch item.ContentType {
	case valueobjects.ContentChunk:
		if dst.ParentID != "" {
			return pkgerrors.NewValidationError("chunks are placed at the notebook root")
		}
		if dst.LocusID == item.LocusID {
			return nil
		}
		chunk, err := s.knowledge.GetChunk(ctx, item.ContentID)
		if err != nil {
			return err
		}
		if chunk.IsShadow() {
			return pkgerrors.NewValidationError("a shadow chunk stays in its connection's notebook")
		}
		if _, err := s.knowledge.FindChunkConnection(ctx, chunk.ID, dst.LocusID); err == nil {
			return duplicateConnection(chunk.ID, dst.LocusID)
		} else if !pkgerrors.IsNotFound(err) {
			return err
		}
		return s.stageNotebookChange(ctx, uow, chunk, dst.LocusID)

	case valueobjects.ContentNotebook:
		if dst.ParentID != "" {
			return pkgerrors.NewValidationError("notebooks are placed at the nexus root")
		}
		if dst.LocusID == item.LocusID {
			return nil
		}
		notebook, err := s.knowledge.GetNotebook(ctx, item.ContentID)
		if err != nil {
			return err
		}
		notebook.NexusID = dst.LocusID
		notebook.UpdatedAt = now
		uow.Replace(notebook)
		return nil

	case valueobjects.ContentTag:
		if dst.LocusID != item.LocusID {
			return pkgerrors.NewValidationError("tags stay in their notebook")
		}
		if dst.ParentID == item.ParentID {
			return nil
		}
		tag, err := s.knowledge.GetTag(ctx, item.ContentID)
		if err != nil {
			return err
		}
		if err := s.checkTagParent(ctx, p, tag, dst.ParentID); err != nil {
			return err
		}
		tag.ParentTagID = dst.ParentID
		tag.UpdatedAt = now
		uow.Replace(tag)
		return nil

	case valueobjects.ContentConversationMessage:
		if dst.LocusID != item.LocusID || dst.ParentID != item.ParentID {
			return pkgerrors.NewValidationError("messages stay in their conversation")
		}
		return nil

	default:
		return pkgerrors.NewValidationError("unknown content type " + string(item.ContentType))
	}
}

// checkTagParent rejects a new parent outside the tag's notebook or inside
// the tag's own subtree.
func (s *Service) checkTagParent(ctx context.Context, p valueobjects.Principal, tag *entities.Tag, parentID string) error {
	for id := parentID; id != ""; {
		if id == tag.ID {
			return pkgerrors.NewValidationError("a tag cannot be nested under itself")
		}
		parent, err := s.guard.Tag(ctx, p, id)
		if err != nil {
			return err
		}
		if parent.NotebookID != tag.NotebookID {
			return pkgerrors.NewValidationError("parent tag belongs to another notebook")
		}
		id = parent.ParentTagID
	}
	return nil
}

// locusTypeFor says which kind of locus holds a content type.
func locusTypeFor(ct valueobjects.ContentType) valueobjects.LocusType {
	if ct == valueobjects.ContentNotebook {
		return valueobjects.LocusNexus
	}
	return valueobjects.LocusNotebook
}
