package content

import (
	"context"

	"go.uber.org/zap"

	"loci/application/ports"
	"loci/application/services/ordering"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// CreateChunkInput creates a chunk. PlacementHint is one of add, import or
// research and selects which of the caller's placement preferences applies.
type CreateChunkInput struct {
	NotebookID    string `json:"notebookId" validate:"required"`
	Text          string `json:"text" validate:"required"`
	ChunkType     string `json:"chunkType" validate:"omitempty,oneof=text code document"`
	MetaTagID     string `json:"metaTagId"`
	PlacementHint string `json:"placementHint" validate:"omitempty,oneof=add import research"`
}

// CreateChunkConnectionInput shadows a chunk into another notebook.
type CreateChunkConnectionInput struct {
	SourceChunkID    string `json:"sourceChunkId" validate:"required"`
	TargetNotebookID string `json:"targetNotebookId" validate:"required"`
}

// CreateChunk creates a chunk and places it at the top or the bottom of its
// notebook, as the caller's preference for the hint's category says.
func (s *Service) CreateChunk(ctx context.Context, p valueobjects.Principal, in CreateChunkInput) (*entities.Chunk, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	chunkType, err := entities.ParseChunkType(in.ChunkType)
	if err != nil {
		return nil, err
	}
	category, err := valueobjects.ParsePlacementCategory(in.PlacementHint)
	if err != nil {
		return nil, err
	}

	notebook, owner, err := s.writableNotebook(ctx, p, in.NotebookID)
	if err != nil {
		return nil, err
	}
	if in.MetaTagID != "" {
		tag, err := s.guard.Tag(ctx, p, in.MetaTagID)
		if err != nil {
			return nil, err
		}
		if tag.NotebookID != notebook.ID {
			return nil, pkgerrors.NewValidationError("meta tag belongs to another notebook")
		}
	}

	chunk, err := entities.NewChunk(s.cfg, notebook.ID, in.Text, chunkType, in.MetaTagID, owner, s.clock.Now())
	if err != nil {
		return nil, err
	}
	placement, err := s.placementFor(ctx, p, category)
	if err != nil {
		return nil, err
	}

	req := ordering.PlaceRequest{
		LocusID:     notebook.ID,
		LocusType:   valueobjects.LocusNotebook,
		ContentType: valueobjects.ContentChunk,
		ContentID:   chunk.ID,
	}
	if err := s.write(ctx, "create_chunk", func(uow ports.UnitOfWork) error {
		if _, err := s.ordering.StagePlacement(ctx, uow, owner, req, placement); err != nil {
			return err
		}
		uow.Create(chunk)
		return nil
	}); err != nil {
		return nil, err
	}

	s.logger.Debug("Chunk created",
		zap.String("chunkID", chunk.ID),
		zap.String("notebookID", notebook.ID),
		zap.String("category", string(category)),
		zap.String("placement", string(placement)),
	)
	return chunk, nil
}

// MoveChunk moves a chunk into targetNotebookID, or within its own notebook
// when targetNotebookID is empty, placing it the way a newly added chunk
// would be placed.
func (s *Service) MoveChunk(ctx context.Context, p valueobjects.Principal, chunkID, targetNotebookID string) (*entities.ContentItem, error) {
	placement, err := s.placementFor(ctx, p, valueobjects.CategoryAdd)
	if err != nil {
		return nil, err
	}
	return s.moveChunk(ctx, p, chunkID, targetNotebookID, placement)
}

// MoveChunkToTop moves a chunk to position 0 of the target notebook.
func (s *Service) MoveChunkToTop(ctx context.Context, p valueobjects.Principal, chunkID, targetNotebookID string) (*entities.ContentItem, error) {
	return s.moveChunk(ctx, p, chunkID, targetNotebookID, valueobjects.PlacementTop)
}

// MoveChunkToBottom moves a chunk after the last sibling of the target
// notebook.
func (s *Service) MoveChunkToBottom(ctx context.Context, p valueobjects.Principal, chunkID, targetNotebookID string) (*entities.ContentItem, error) {
	return s.moveChunk(ctx, p, chunkID, targetNotebookID, valueobjects.PlacementBottom)
}

func (s *Service) moveChunk(ctx context.Context, p valueobjects.Principal, chunkID, targetNotebookID string, placement valueobjects.Placement) (*entities.ContentItem, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	chunk, err := s.guard.Chunk(ctx, p, chunkID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanModifyInNotebook(ctx, p, chunk, chunk.NotebookID); err != nil {
		return nil, err
	}
	if targetNotebookID == "" {
		targetNotebookID = chunk.NotebookID
	}
	crossing := targetNotebookID != chunk.NotebookID
	if crossing {
		if _, _, err := s.writableNotebook(ctx, p, targetNotebookID); err != nil {
			return nil, err
		}
		if chunk.IsShadow() {
			return nil, pkgerrors.NewValidationError("a shadow chunk stays in its connection's notebook")
		}
		if _, err := s.knowledge.FindChunkConnection(ctx, chunk.ID, targetNotebookID); err == nil {
			return nil, duplicateConnection(chunk.ID, targetNotebookID)
		} else if !pkgerrors.IsNotFound(err) {
			return nil, err
		}
	}

	dst := ordering.Destination{LocusID: targetNotebookID, LocusType: valueobjects.LocusNotebook}
	var moved *entities.ContentItem
	err = s.write(ctx, "move_chunk", func(uow ports.UnitOfWork) error {
		fresh, err := s.knowledge.GetChunk(ctx, chunk.ID)
		if err != nil {
			return err
		}
		item, err := s.primaryItem(ctx, fresh)
		if err != nil {
			return err
		}

		if item == nil {
			// No placement survived; place it as if it were new.
			req := ordering.PlaceRequest{
				LocusID:     dst.LocusID,
				LocusType:   dst.LocusType,
				ContentType: valueobjects.ContentChunk,
				ContentID:   fresh.ID,
			}
			moved, err = s.ordering.StagePlacement(ctx, uow, fresh.OwnerID, req, placement)
		} else {
			moved, err = s.ordering.StageMove(ctx, uow, item, dst, placement)
		}
		if err != nil {
			return err
		}

		if crossing {
			if err := s.stageNotebookChange(ctx, uow, fresh, targetNotebookID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Chunk moved",
		zap.String("chunkID", chunk.ID),
		zap.String("from", chunk.NotebookID),
		zap.String("to", targetNotebookID),
		zap.String("placement", string(placement)),
	)
	return moved, nil
}

// primaryItem returns the chunk's placement in its own notebook, or nil.
func (s *Service) primaryItem(ctx context.Context, chunk *entities.Chunk) (*entities.ContentItem, error) {
	items, err := s.items.ListContentItemsByContent(ctx, valueobjects.ContentChunk, chunk.ID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.LocusID == chunk.NotebookID {
			return item, nil
		}
	}
	return nil, nil
}

// stageNotebookChange rehomes a chunk. Tags are notebook scoped, so its tag
// links and meta tag do not travel with it.
func (s *Service) stageNotebookChange(ctx context.Context, uow ports.UnitOfWork, chunk *entities.Chunk, notebookID string) error {
	links, err := s.knowledge.ListChunkTagsByChunk(ctx, chunk.ID)
	if err != nil {
		return err
	}
	for _, link := range links {
		uow.Delete(link)
	}
	chunk.NotebookID = notebookID
	chunk.MetaTagID = ""
	chunk.UpdatedAt = s.clock.Now()
	uow.Replace(chunk)
	return nil
}

// CreateChunkConnection shadows a chunk into another notebook: it creates a
// copy of the chunk there, places the copy, and records the connection. A
// second connection for the same pair fails with CONFLICT.
func (s *Service) CreateChunkConnection(ctx context.Context, p valueobjects.Principal, in CreateChunkConnectionInput) (*entities.ChunkConnection, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	source, err := s.guard.Chunk(ctx, p, in.SourceChunkID)
	if err != nil {
		return nil, err
	}
	if source.IsShadow() {
		return nil, pkgerrors.NewValidationError("cannot connect a shadow chunk")
	}
	if source.NotebookID == in.TargetNotebookID {
		return nil, pkgerrors.NewValidationError("target notebook already holds the chunk")
	}
	target, owner, err := s.writableNotebook(ctx, p, in.TargetNotebookID)
	if err != nil {
		return nil, err
	}
	if _, err := s.knowledge.FindChunkConnection(ctx, source.ID, target.ID); err == nil {
		return nil, duplicateConnection(source.ID, target.ID)
	} else if !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	placement, err := s.placementFor(ctx, p, valueobjects.CategoryAdd)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	shadow := source.ShadowInto(target.ID, owner, now)
	conn := &entities.ChunkConnection{
		ID:               entities.NewID(),
		SourceChunkID:    source.ID,
		TargetNotebookID: target.ID,
		ShadowChunkID:    shadow.ID,
		OwnerID:          owner,
		CreatedAt:        now,
	}
	req := ordering.PlaceRequest{
		LocusID:     target.ID,
		LocusType:   valueobjects.LocusNotebook,
		ContentType: valueobjects.ContentChunk,
		ContentID:   shadow.ID,
	}
	err = s.write(ctx, "create_connection", func(uow ports.UnitOfWork) error {
		item, err := s.ordering.StagePlacement(ctx, uow, owner, req, placement)
		if err != nil {
			return err
		}
		conn.ShadowItemID = item.ID
		uow.Create(shadow)
		uow.Create(conn)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Chunk connection created",
		zap.String("connectionID", conn.ID),
		zap.String("sourceChunkID", source.ID),
		zap.String("targetNotebookID", target.ID),
	)
	return conn, nil
}

func duplicateConnection(sourceChunkID, targetNotebookID string) error {
	return pkgerrors.NewConflictError("chunk is already connected to this notebook").
		WithCode(pkgerrors.CodeDuplicateConnection).
		WithDetails(map[string]interface{}{
			"sourceChunkId":    sourceChunkID,
			"targetNotebookId": targetNotebookID,
		})
}
