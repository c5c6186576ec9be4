package scoping

import (
	"context"

	"loci/application/ports"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// Guard loads records on behalf of a requester and hides the ones the
// requester may not see behind NOT_FOUND.
type Guard struct {
	knowledge        ports.KnowledgeRepository
	publicManualName string
}

// NewGuard creates a guard.
func NewGuard(knowledge ports.KnowledgeRepository, publicManualName string) *Guard {
	return &Guard{knowledge: knowledge, publicManualName: publicManualName}
}

// Nexus loads a nexus and reports whether its subtree is shared.
func (g *Guard) Nexus(ctx context.Context, p valueobjects.Principal, id string) (*entities.Nexus, bool, error) {
	nexus, err := g.knowledge.GetNexus(ctx, id)
	if err != nil {
		return nil, false, err
	}
	shared := IsSharedNexus(nexus, p, g.publicManualName)
	if !shared && !Visible(nexus, p, false) {
		return nil, false, pkgerrors.NewNotFoundError("nexus", id)
	}
	return nexus, shared, nil
}

// Notebook loads a notebook and reports whether it sits in a shared nexus.
func (g *Guard) Notebook(ctx context.Context, p valueobjects.Principal, id string) (*entities.Notebook, bool, error) {
	notebook, err := g.knowledge.GetNotebook(ctx, id)
	if err != nil {
		return nil, false, err
	}
	shared, err := g.nexusShared(ctx, p, notebook.NexusID)
	if err != nil {
		return nil, false, err
	}
	if !Visible(notebook, p, shared) {
		return nil, false, pkgerrors.NewNotFoundError("notebook", id)
	}
	return notebook, shared, nil
}

// Chunk loads a chunk the requester may see.
func (g *Guard) Chunk(ctx context.Context, p valueobjects.Principal, id string) (*entities.Chunk, error) {
	chunk, err := g.knowledge.GetChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkInNotebook(ctx, p, chunk, chunk.NotebookID, "chunk", id); err != nil {
		return nil, err
	}
	return chunk, nil
}

// Tag loads a tag the requester may see.
func (g *Guard) Tag(ctx context.Context, p valueobjects.Principal, id string) (*entities.Tag, error) {
	tag, err := g.knowledge.GetTag(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkInNotebook(ctx, p, tag, tag.NotebookID, "tag", id); err != nil {
		return nil, err
	}
	return tag, nil
}

// Conversation loads a conversation the requester may see.
func (g *Guard) Conversation(ctx context.Context, p valueobjects.Principal, id string) (*entities.Conversation, error) {
	conv, err := g.knowledge.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.checkInNotebook(ctx, p, conv, conv.NotebookID, "conversation", id); err != nil {
		return nil, err
	}
	return conv, nil
}

// ChunkConnection loads a connection the requester owns.
func (g *Guard) ChunkConnection(ctx context.Context, p valueobjects.Principal, id string) (*entities.ChunkConnection, error) {
	conn, err := g.knowledge.GetChunkConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Visible(conn, p, false) {
		if _, err := g.Chunk(ctx, p, conn.SourceChunkID); err != nil {
			return nil, pkgerrors.NewNotFoundError("chunk connection", id)
		}
	}
	return conn, nil
}

// Locus checks that the requester may see a nexus or notebook locus.
func (g *Guard) Locus(ctx context.Context, p valueobjects.Principal, locusID string, locusType valueobjects.LocusType) error {
	var err error
	switch locusType {
	case valueobjects.LocusNexus:
		_, _, err = g.Nexus(ctx, p, locusID)
	case valueobjects.LocusNotebook:
		_, _, err = g.Notebook(ctx, p, locusID)
	default:
		_, err = valueobjects.ParseLocusType(string(locusType))
	}
	return err
}

// ResolveLocus finds which kind of container locusID names and checks access.
func (g *Guard) ResolveLocus(ctx context.Context, p valueobjects.Principal, locusID string) (valueobjects.LocusType, error) {
	if _, _, err := g.Notebook(ctx, p, locusID); err == nil {
		return valueobjects.LocusNotebook, nil
	} else if !pkgerrors.IsNotFound(err) {
		return "", err
	}
	if _, _, err := g.Nexus(ctx, p, locusID); err != nil {
		return "", err
	}
	return valueobjects.LocusNexus, nil
}

func (g *Guard) checkInNotebook(ctx context.Context, p valueobjects.Principal, record entities.Owned, notebookID, resource, id string) error {
	notebook, err := g.knowledge.GetNotebook(ctx, notebookID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return pkgerrors.NewNotFoundError(resource, id)
		}
		return err
	}
	shared, err := g.nexusShared(ctx, p, notebook.NexusID)
	if err != nil {
		return err
	}
	if !Visible(record, p, shared) {
		return pkgerrors.NewNotFoundError(resource, id)
	}
	return nil
}

func (g *Guard) nexusShared(ctx context.Context, p valueobjects.Principal, nexusID string) (bool, error) {
	nexus, err := g.knowledge.GetNexus(ctx, nexusID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return IsSharedNexus(nexus, p, g.publicManualName), nil
}

// CanModifyInNexus fails with FORBIDDEN unless the requester owns record, or
// record is ownerless and lives in the requester's own guest nexus. Shared
// content is readable by everyone but writable only by its owner.
func (g *Guard) CanModifyInNexus(ctx context.Context, p valueobjects.Principal, record entities.Owned, nexusID string) error {
	if owner := record.Owner(); owner != "" {
		if owner == p.OwnerKey() {
			return nil
		}
		return pkgerrors.NewForbiddenError("only the owner can modify this record")
	}
	nexus, err := g.knowledge.GetNexus(ctx, nexusID)
	if err != nil && !pkgerrors.IsNotFound(err) {
		return err
	}
	if err == nil && nexus.IsGuest && p.IsGuest() && nexus.OwnerID == p.OwnerKey() {
		return nil
	}
	return pkgerrors.NewForbiddenError("shared content cannot be modified")
}

// CanModifyInNotebook is CanModifyInNexus for records scoped to a notebook.
func (g *Guard) CanModifyInNotebook(ctx context.Context, p valueobjects.Principal, record entities.Owned, notebookID string) error {
	if record.Owner() != "" {
		return g.CanModifyInNexus(ctx, p, record, "")
	}
	notebook, err := g.knowledge.GetNotebook(ctx, notebookID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return pkgerrors.NewForbiddenError("shared content cannot be modified")
		}
		return err
	}
	return g.CanModifyInNexus(ctx, p, record, notebook.NexusID)
}
