package ports

import (
	"context"

	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
)

// All Get methods return a NOT_FOUND AppError when the record is absent.
// List methods return an empty slice, never an error, for no matches.

// ContentItemRepository reads placement records.
type ContentItemRepository interface {
	// GetContentItem retrieves a content item by its ID
	GetContentItem(ctx context.Context, id string) (*entities.ContentItem, error)

	// ListContentItems returns the siblings of one (locus, parent) list.
	// Order is unspecified; callers sort.
	ListContentItems(ctx context.Context, key valueobjects.OrderKey) ([]*entities.ContentItem, error)

	// ListContentItemsByLocus returns every item in a locus, across all parents.
	ListContentItemsByLocus(ctx context.Context, locusID string) ([]*entities.ContentItem, error)

	// ListContentItemsByContent finds the placements of one content record.
	ListContentItemsByContent(ctx context.Context, contentType valueobjects.ContentType, contentID string) ([]*entities.ContentItem, error)

	// ListAllContentItems scans every content item. Used by repair tooling.
	ListAllContentItems(ctx context.Context) ([]*entities.ContentItem, error)

	// GetOrderVersion returns the current version of a sibling list's order
	// head, or 0 if the list has never been written.
	GetOrderVersion(ctx context.Context, key valueobjects.OrderKey) (int64, error)
}

// KnowledgeRepository reads the knowledge tree: nexi, notebooks, chunks and
// everything hanging off them.
type KnowledgeRepository interface {
	GetNexus(ctx context.Context, id string) (*entities.Nexus, error)
	GetNotebook(ctx context.Context, id string) (*entities.Notebook, error)
	GetChunk(ctx context.Context, id string) (*entities.Chunk, error)
	GetTag(ctx context.Context, id string) (*entities.Tag, error)
	GetConversation(ctx context.Context, id string) (*entities.Conversation, error)
	GetConversationMessage(ctx context.Context, id string) (*entities.ConversationMessage, error)
	GetChunkConnection(ctx context.Context, id string) (*entities.ChunkConnection, error)

	// FindChunkConnection looks up the connection for a (source, target) pair.
	FindChunkConnection(ctx context.Context, sourceChunkID, targetNotebookID string) (*entities.ChunkConnection, error)

	ListNexiByOwner(ctx context.Context, ownerID string) ([]*entities.Nexus, error)
	ListNotebooksByNexus(ctx context.Context, nexusID string) ([]*entities.Notebook, error)
	ListChunksByNotebook(ctx context.Context, notebookID string) ([]*entities.Chunk, error)
	ListTagsByNotebook(ctx context.Context, notebookID string) ([]*entities.Tag, error)
	ListChildTags(ctx context.Context, parentTagID string) ([]*entities.Tag, error)
	ListConversationsByNotebook(ctx context.Context, notebookID string) ([]*entities.Conversation, error)
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]*entities.ConversationMessage, error)

	ListChunkTagsByChunk(ctx context.Context, chunkID string) ([]*entities.ChunkTag, error)
	ListChunkTagsByTag(ctx context.Context, tagID string) ([]*entities.ChunkTag, error)
	ListConduitsBySource(ctx context.Context, chunkID string) ([]*entities.Conduit, error)
	ListConduitsByTarget(ctx context.Context, chunkID string) ([]*entities.Conduit, error)
	ListJemsByChunk(ctx context.Context, chunkID string) ([]*entities.Jem, error)
	ListAttachmentsByChunk(ctx context.Context, chunkID string) ([]*entities.Attachment, error)
	ListConnectionsBySource(ctx context.Context, chunkID string) ([]*entities.ChunkConnection, error)

	// ListAllChunkTags and ListAllMessages scan for repair tooling.
	ListAllChunkTags(ctx context.Context) ([]*entities.ChunkTag, error)
	ListAllMessages(ctx context.Context) ([]*entities.ConversationMessage, error)
}

// UserRepository reads users and their ledger.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*entities.User, error)

	// ListUsers scans every user. Used by the monthly allowance reset.
	ListUsers(ctx context.Context) ([]*entities.User, error)

	// ListShardTransactions returns up to limit rows, newest first. A limit
	// of zero or less returns the whole ledger.
	ListShardTransactions(ctx context.Context, userID string, limit int) ([]*entities.ShardTransaction, error)
}

// PricingRepository reads stored model pricing records.
type PricingRepository interface {
	GetModelPricing(ctx context.Context, modelID string) (*entities.ModelPricing, error)
}

// PriceTable is the local static price table consulted before storage.
type PriceTable interface {
	Lookup(modelID string) (*entities.ModelPricing, bool)
}
