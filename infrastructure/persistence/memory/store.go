// Package memory provides an in-process implementation of the persistence
// ports. It backs development mode and the service tests, and applies the
// same unit-of-work conditions as the DynamoDB store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"loci/application/ports"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

var (
	_ ports.ContentItemRepository = (*Store)(nil)
	_ ports.KnowledgeRepository   = (*Store)(nil)
	_ ports.UserRepository        = (*Store)(nil)
	_ ports.PricingRepository     = (*Store)(nil)
	_ ports.UnitOfWorkFactory     = (*Store)(nil)
	_ ports.JobLock               = (*Store)(nil)
)

// Store keeps every record kind in its own map, keyed by record ID.
type Store struct {
	mu sync.RWMutex

	records    map[entities.Kind]map[string]entities.Record
	orderHeads map[valueobjects.OrderKey]int64
	locks      map[string]lockEntry

	// For testing error scenarios
	shouldFailOn map[string]error
	commits      int
	failCommitAt int
	commitErr    error

	logger *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		records:      make(map[entities.Kind]map[string]entities.Record),
		orderHeads:   make(map[valueobjects.OrderKey]int64),
		locks:        make(map[string]lockEntry),
		shouldFailOn: make(map[string]error),
		logger:       logger,
	}
}

// SetError configures the store to return an error for a specific method.
func (s *Store) SetError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldFailOn[method] = err
}

// FailCommitAt makes the nth commit from now (1-based) fail with err.
// Earlier commits succeed, so cascades can be stopped part way.
func (s *Store) FailCommitAt(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommitAt = s.commits + n
	s.commitErr = err
}

// ClearErrors removes all configured errors.
func (s *Store) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldFailOn = make(map[string]error)
	s.failCommitAt = 0
	s.commitErr = nil
}

func (s *Store) checkError(method string) error {
	if err, exists := s.shouldFailOn[method]; exists {
		return err
	}
	return nil
}

// Seed writes records directly, bypassing units of work. Test helper.
func (s *Store) Seed(records ...entities.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.putLocked(r)
	}
}

// Count returns how many records of a kind are stored.
func (s *Store) Count(kind entities.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[kind])
}

func (s *Store) putLocked(r entities.Record) {
	bucket, ok := s.records[r.RecordKind()]
	if !ok {
		bucket = make(map[string]entities.Record)
		s.records[r.RecordKind()] = bucket
	}
	bucket[r.RecordID()] = cloneRecord(r)
}

func getRecord[T entities.Record](s *Store, method string, kind entities.Kind, id string) (T, error) {
	var zero T
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkError(method); err != nil {
		return zero, err
	}
	rec, ok := s.records[kind][id]
	if !ok {
		return zero, pkgerrors.NewNotFoundError(resourceName(kind), id)
	}
	return cloneRecord(rec).(T), nil
}

func listRecords[T entities.Record](s *Store, method string, kind entities.Kind, keep func(T) bool) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkError(method); err != nil {
		return nil, err
	}
	out := make([]T, 0)
	for _, rec := range s.records[kind] {
		typed := rec.(T)
		if keep == nil || keep(typed) {
			out = append(out, cloneRecord(rec).(T))
		}
	}
	// Map iteration is random; keep listings reproducible.
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID() < out[j].RecordID() })
	return out, nil
}

// Content items

func (s *Store) GetContentItem(ctx context.Context, id string) (*entities.ContentItem, error) {
	return getRecord[*entities.ContentItem](s, "GetContentItem", entities.KindContentItem, id)
}

func (s *Store) ListContentItems(ctx context.Context, key valueobjects.OrderKey) ([]*entities.ContentItem, error) {
	return listRecords(s, "ListContentItems", entities.KindContentItem, func(c *entities.ContentItem) bool {
		return c.LocusID == key.LocusID && c.ParentID == key.ParentID
	})
}

func (s *Store) ListContentItemsByLocus(ctx context.Context, locusID string) ([]*entities.ContentItem, error) {
	return listRecords(s, "ListContentItemsByLocus", entities.KindContentItem, func(c *entities.ContentItem) bool {
		return c.LocusID == locusID
	})
}

func (s *Store) ListContentItemsByContent(ctx context.Context, contentType valueobjects.ContentType, contentID string) ([]*entities.ContentItem, error) {
	return listRecords(s, "ListContentItemsByContent", entities.KindContentItem, func(c *entities.ContentItem) bool {
		return c.ContentType == contentType && c.ContentID == contentID
	})
}

func (s *Store) ListAllContentItems(ctx context.Context) ([]*entities.ContentItem, error) {
	return listRecords[*entities.ContentItem](s, "ListAllContentItems", entities.KindContentItem, nil)
}

func (s *Store) GetOrderVersion(ctx context.Context, key valueobjects.OrderKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError("GetOrderVersion"); err != nil {
		return 0, err
	}
	return s.orderHeads[key], nil
}

// Knowledge tree

func (s *Store) GetNexus(ctx context.Context, id string) (*entities.Nexus, error) {
	return getRecord[*entities.Nexus](s, "GetNexus", entities.KindNexus, id)
}

func (s *Store) GetNotebook(ctx context.Context, id string) (*entities.Notebook, error) {
	return getRecord[*entities.Notebook](s, "GetNotebook", entities.KindNotebook, id)
}

func (s *Store) GetChunk(ctx context.Context, id string) (*entities.Chunk, error) {
	return getRecord[*entities.Chunk](s, "GetChunk", entities.KindChunk, id)
}

func (s *Store) GetTag(ctx context.Context, id string) (*entities.Tag, error) {
	return getRecord[*entities.Tag](s, "GetTag", entities.KindTag, id)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*entities.Conversation, error) {
	return getRecord[*entities.Conversation](s, "GetConversation", entities.KindConversation, id)
}

func (s *Store) GetConversationMessage(ctx context.Context, id string) (*entities.ConversationMessage, error) {
	return getRecord[*entities.ConversationMessage](s, "GetConversationMessage", entities.KindConversationMessage, id)
}

func (s *Store) GetChunkConnection(ctx context.Context, id string) (*entities.ChunkConnection, error) {
	return getRecord[*entities.ChunkConnection](s, "GetChunkConnection", entities.KindChunkConnection, id)
}

func (s *Store) FindChunkConnection(ctx context.Context, sourceChunkID, targetNotebookID string) (*entities.ChunkConnection, error) {
	found, err := listRecords(s, "FindChunkConnection", entities.KindChunkConnection, func(c *entities.ChunkConnection) bool {
		return c.SourceChunkID == sourceChunkID && c.TargetNotebookID == targetNotebookID
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, pkgerrors.NewNotFoundError("chunk connection", sourceChunkID+"->"+targetNotebookID)
	}
	return found[0], nil
}

func (s *Store) ListNexiByOwner(ctx context.Context, ownerID string) ([]*entities.Nexus, error) {
	return listRecords(s, "ListNexiByOwner", entities.KindNexus, func(n *entities.Nexus) bool {
		return n.OwnerID == ownerID
	})
}

func (s *Store) ListNotebooksByNexus(ctx context.Context, nexusID string) ([]*entities.Notebook, error) {
	return listRecords(s, "ListNotebooksByNexus", entities.KindNotebook, func(n *entities.Notebook) bool {
		return n.NexusID == nexusID
	})
}

func (s *Store) ListChunksByNotebook(ctx context.Context, notebookID string) ([]*entities.Chunk, error) {
	return listRecords(s, "ListChunksByNotebook", entities.KindChunk, func(c *entities.Chunk) bool {
		return c.NotebookID == notebookID
	})
}

func (s *Store) ListTagsByNotebook(ctx context.Context, notebookID string) ([]*entities.Tag, error) {
	return listRecords(s, "ListTagsByNotebook", entities.KindTag, func(t *entities.Tag) bool {
		return t.NotebookID == notebookID
	})
}

func (s *Store) ListChildTags(ctx context.Context, parentTagID string) ([]*entities.Tag, error) {
	return listRecords(s, "ListChildTags", entities.KindTag, func(t *entities.Tag) bool {
		return t.ParentTagID == parentTagID
	})
}

func (s *Store) ListConversationsByNotebook(ctx context.Context, notebookID string) ([]*entities.Conversation, error) {
	return listRecords(s, "ListConversationsByNotebook", entities.KindConversation, func(c *entities.Conversation) bool {
		return c.NotebookID == notebookID
	})
}

func (s *Store) ListMessagesByConversation(ctx context.Context, conversationID string) ([]*entities.ConversationMessage, error) {
	return listRecords(s, "ListMessagesByConversation", entities.KindConversationMessage, func(m *entities.ConversationMessage) bool {
		return m.ConversationID == conversationID
	})
}

func (s *Store) ListChunkTagsByChunk(ctx context.Context, chunkID string) ([]*entities.ChunkTag, error) {
	return listRecords(s, "ListChunkTagsByChunk", entities.KindChunkTag, func(l *entities.ChunkTag) bool {
		return l.ChunkID == chunkID
	})
}

func (s *Store) ListChunkTagsByTag(ctx context.Context, tagID string) ([]*entities.ChunkTag, error) {
	return listRecords(s, "ListChunkTagsByTag", entities.KindChunkTag, func(l *entities.ChunkTag) bool {
		return l.TagID == tagID
	})
}

func (s *Store) ListConduitsBySource(ctx context.Context, chunkID string) ([]*entities.Conduit, error) {
	return listRecords(s, "ListConduitsBySource", entities.KindConduit, func(c *entities.Conduit) bool {
		return c.SourceChunkID == chunkID
	})
}

func (s *Store) ListConduitsByTarget(ctx context.Context, chunkID string) ([]*entities.Conduit, error) {
	return listRecords(s, "ListConduitsByTarget", entities.KindConduit, func(c *entities.Conduit) bool {
		return c.TargetChunkID == chunkID
	})
}

func (s *Store) ListJemsByChunk(ctx context.Context, chunkID string) ([]*entities.Jem, error) {
	return listRecords(s, "ListJemsByChunk", entities.KindJem, func(j *entities.Jem) bool {
		return j.ChunkID == chunkID
	})
}

func (s *Store) ListAttachmentsByChunk(ctx context.Context, chunkID string) ([]*entities.Attachment, error) {
	return listRecords(s, "ListAttachmentsByChunk", entities.KindAttachment, func(a *entities.Attachment) bool {
		return a.ChunkID == chunkID
	})
}

func (s *Store) ListConnectionsBySource(ctx context.Context, chunkID string) ([]*entities.ChunkConnection, error) {
	return listRecords(s, "ListConnectionsBySource", entities.KindChunkConnection, func(c *entities.ChunkConnection) bool {
		return c.SourceChunkID == chunkID
	})
}

func (s *Store) ListAllChunkTags(ctx context.Context) ([]*entities.ChunkTag, error) {
	return listRecords[*entities.ChunkTag](s, "ListAllChunkTags", entities.KindChunkTag, nil)
}

func (s *Store) ListAllMessages(ctx context.Context) ([]*entities.ConversationMessage, error) {
	return listRecords[*entities.ConversationMessage](s, "ListAllMessages", entities.KindConversationMessage, nil)
}

// Users and ledger

func (s *Store) GetUser(ctx context.Context, id string) (*entities.User, error) {
	return getRecord[*entities.User](s, "GetUser", entities.KindUser, id)
}

func (s *Store) ListUsers(ctx context.Context) ([]*entities.User, error) {
	return listRecords[*entities.User](s, "ListUsers", entities.KindUser, nil)
}

func (s *Store) ListShardTransactions(ctx context.Context, userID string, limit int) ([]*entities.ShardTransaction, error) {
	txs, err := listRecords(s, "ListShardTransactions", entities.KindShardTransaction, func(t *entities.ShardTransaction) bool {
		return t.UserID == userID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID > txs[j].ID })
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (s *Store) GetModelPricing(ctx context.Context, modelID string) (*entities.ModelPricing, error) {
	return getRecord[*entities.ModelPricing](s, "GetModelPricing", entities.KindModelPricing, modelID)
}

func resourceName(kind entities.Kind) string {
	switch kind {
	case entities.KindContentItem:
		return "content item"
	case entities.KindChunkConnection:
		return "chunk connection"
	case entities.KindConversationMessage:
		return "conversation message"
	case entities.KindModelPricing:
		return "model pricing"
	case entities.KindChunkTag:
		return "chunk tag"
	default:
		return strings.ToLower(string(kind))
	}
}

