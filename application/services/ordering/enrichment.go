package ordering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// Content is the record a content item points at. Its implementations are
// exactly ChunkContent, NotebookContent, TagContent and MessageContent.
type Content interface {
	ContentType() valueobjects.ContentType
	Record() entities.Record
	sealed()
}

type ChunkContent struct{ Chunk *entities.Chunk }
type NotebookContent struct{ Notebook *entities.Notebook }
type TagContent struct{ Tag *entities.Tag }
type MessageContent struct{ Message *entities.ConversationMessage }

func (ChunkContent) ContentType() valueobjects.ContentType    { return valueobjects.ContentChunk }
func (NotebookContent) ContentType() valueobjects.ContentType { return valueobjects.ContentNotebook }
func (TagContent) ContentType() valueobjects.ContentType      { return valueobjects.ContentTag }
func (MessageContent) ContentType() valueobjects.ContentType  { return valueobjects.ContentConversationMessage }

func (c ChunkContent) Record() entities.Record    { return c.Chunk }
func (c NotebookContent) Record() entities.Record { return c.Notebook }
func (c TagContent) Record() entities.Record      { return c.Tag }
func (c MessageContent) Record() entities.Record  { return c.Message }

func (ChunkContent) sealed()    {}
func (NotebookContent) sealed() {}
func (TagContent) sealed()      {}
func (MessageContent) sealed()  {}

// Cases holds one handler per Content variant.
type Cases[T any] struct {
	Chunk    func(ChunkContent) T
	Notebook func(NotebookContent) T
	Tag      func(TagContent) T
	Message  func(MessageContent) T
}

// Match dispatches c to the handler for its variant.
func Match[T any](c Content, cases Cases[T]) T {
	switch v := c.(type) {
	case ChunkContent:
		return cases.Chunk(v)
	case NotebookContent:
		return cases.Notebook(v)
	case TagContent:
		return cases.Tag(v)
	case MessageContent:
		return cases.Message(v)
	default:
		panic(fmt.Sprintf("ordering: unknown content variant %T", c))
	}
}

// EnrichedItem pairs a content item with the record it places.
type EnrichedItem struct {
	Item    *entities.ContentItem
	Content Content
}

type resolver func(ctx context.Context, id string) (Content, error)

// resolvers maps each content type to the lookup for its collection.
func (s *Service) resolvers() map[valueobjects.ContentType]resolver {
	return map[valueobjects.ContentType]resolver{
		valueobjects.ContentChunk: func(ctx context.Context, id string) (Content, error) {
			chunk, err := s.knowledge.GetChunk(ctx, id)
			if err != nil {
				return nil, err
			}
			return ChunkContent{Chunk: chunk}, nil
		},
		valueobjects.ContentNotebook: func(ctx context.Context, id string) (Content, error) {
			notebook, err := s.knowledge.GetNotebook(ctx, id)
			if err != nil {
				return nil, err
			}
			return NotebookContent{Notebook: notebook}, nil
		},
		valueobjects.ContentTag: func(ctx context.Context, id string) (Content, error) {
			tag, err := s.knowledge.GetTag(ctx, id)
			if err != nil {
				return nil, err
			}
			return TagContent{Tag: tag}, nil
		},
		valueobjects.ContentConversationMessage: func(ctx context.Context, id string) (Content, error) {
			msg, err := s.knowledge.GetConversationMessage(ctx, id)
			if err != nil {
				return nil, err
			}
			return MessageContent{Message: msg}, nil
		},
	}
}

// ResolveContent loads the record behind one content item.
func (s *Service) ResolveContent(ctx context.Context, item *entities.ContentItem) (Content, error) {
	resolve, ok := s.resolvers()[item.ContentType]
	if !ok {
		return nil, pkgerrors.NewValidationError("unknown content type " + string(item.ContentType))
	}
	return resolve(ctx, item.ContentID)
}

// EnrichContentItems attaches each item's record, keeping the input order.
// Items whose record is gone are dropped.
func (s *Service) EnrichContentItems(ctx context.Context, items []*entities.ContentItem) ([]EnrichedItem, error) {
	resolvers := s.resolvers()
	enriched := make([]EnrichedItem, 0, len(items))
	dropped := 0

	for _, item := range items {
		resolve, ok := resolvers[item.ContentType]
		if !ok {
			dropped++
			continue
		}
		content, err := resolve(ctx, item.ContentID)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				dropped++
				continue
			}
			return nil, err
		}
		enriched = append(enriched, EnrichedItem{Item: item, Content: content})
	}

	if dropped > 0 {
		s.logger.Debug("Dropped dangling content items", zap.Int("dropped", dropped))
	}
	return enriched, nil
}
