// Package dynamodb implements the persistence ports on a single DynamoDB
// table. Record bodies are stored as plain attributes next to their keys;
// see keys.go for the layout.
package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"loci/application/ports"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var (
	_ ports.ContentItemRepository = (*Store)(nil)
	_ ports.KnowledgeRepository   = (*Store)(nil)
	_ ports.UserRepository        = (*Store)(nil)
	_ ports.PricingRepository     = (*Store)(nil)
	_ ports.UnitOfWorkFactory     = (*Store)(nil)
)

// Store reads and writes every record kind in one table.
type Store struct {
	client    API
	tableName string
	gsi1      string
	gsi2      string
	logger    *zap.Logger
}

// NewStore creates a store over tableName with its two secondary indexes.
func NewStore(client API, tableName, gsi1, gsi2 string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		tableName: tableName,
		gsi1:      gsi1,
		gsi2:      gsi2,
		logger:    logger,
	}
}

func getRecord[T any](ctx context.Context, s *Store, kind entities.Kind, resource, id string) (*T, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            primaryKey(recordPK(kind, id), recordSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classifyError("GetItem", err)
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError(resource, id)
	}
	return unmarshalRecord[T](out.Item)
}

// indexQuery names one GSI partition, optionally narrowed by sort key prefix.
type indexQuery struct {
	index    string
	pkAttr   string
	skAttr   string
	pk       string
	skPrefix string
	newest   bool
	limit    int
}

func (s *Store) byGSI1(pk, skPrefix string) indexQuery {
	return indexQuery{index: s.gsi1, pkAttr: attrGSI1PK, skAttr: attrGSI1SK, pk: pk, skPrefix: skPrefix}
}

func (s *Store) byGSI2(pk, skPrefix string) indexQuery {
	return indexQuery{index: s.gsi2, pkAttr: attrGSI2PK, skAttr: attrGSI2SK, pk: pk, skPrefix: skPrefix}
}

func queryRecords[T any](ctx context.Context, s *Store, q indexQuery) ([]*T, error) {
	keyCond := expression.Key(q.pkAttr).Equal(expression.Value(q.pk))
	if q.skPrefix != "" {
		keyCond = keyCond.And(expression.Key(q.skAttr).BeginsWith(q.skPrefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(q.index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!q.newest),
	}

	out := make([]*T, 0)
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyError("Query", err)
		}
		for _, item := range page.Items {
			rec, err := unmarshalRecord[T](item)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			if q.limit > 0 && len(out) == q.limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// scanKind reads every record of one kind. Only repair and batch jobs use it.
func scanKind[T any](ctx context.Context, s *Store, kind entities.Kind) ([]*T, error) {
	filter := expression.Name(attrEntityType).Equal(expression.Value(string(kind)))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scan expression: %w", err)
	}
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	out := make([]*T, 0)
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyError("Scan", err)
		}
		for _, item := range page.Items {
			rec, err := unmarshalRecord[T](item)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	s.logger.Debug("Scanned records", zap.String("kind", string(kind)), zap.Int("count", len(out)))
	return out, nil
}

// Content items

func (s *Store) GetContentItem(ctx context.Context, id string) (*entities.ContentItem, error) {
	return getRecord[entities.ContentItem](ctx, s, entities.KindContentItem, "content item", id)
}

func (s *Store) ListContentItems(ctx context.Context, key valueobjects.OrderKey) ([]*entities.ContentItem, error) {
	return queryRecords[entities.ContentItem](ctx, s, s.byGSI1("LOCUS#"+key.LocusID, itemPrefix(key.ParentID)))
}

func (s *Store) ListContentItemsByLocus(ctx context.Context, locusID string) ([]*entities.ContentItem, error) {
	return queryRecords[entities.ContentItem](ctx, s, s.byGSI1("LOCUS#"+locusID, "ITEM#"))
}

func (s *Store) ListContentItemsByContent(ctx context.Context, contentType valueobjects.ContentType, contentID string) ([]*entities.ContentItem, error) {
	return queryRecords[entities.ContentItem](ctx, s, s.byGSI2(contentKey(contentType, contentID), "ITEM#"))
}

func (s *Store) ListAllContentItems(ctx context.Context) ([]*entities.ContentItem, error) {
	return scanKind[entities.ContentItem](ctx, s, entities.KindContentItem)
}

// GetOrderVersion reads a sibling list's order head with a strongly
// consistent read.
func (s *Store) GetOrderVersion(ctx context.Context, key valueobjects.OrderKey) (int64, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  primaryKey(orderHeadPK(key), orderHeadSK),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(attrVersion),
	})
	if err != nil {
		return 0, classifyError("GetItem", err)
	}
	if out.Item == nil {
		return 0, nil
	}
	head, err := unmarshalRecord[orderHead](out.Item)
	if err != nil {
		return 0, err
	}
	return head.Version, nil
}

type orderHead struct {
	Version int64 `dynamodbav:"Version"`
}

// Knowledge tree

func (s *Store) GetNexus(ctx context.Context, id string) (*entities.Nexus, error) {
	return getRecord[entities.Nexus](ctx, s, entities.KindNexus, "nexus", id)
}

func (s *Store) GetNotebook(ctx context.Context, id string) (*entities.Notebook, error) {
	return getRecord[entities.Notebook](ctx, s, entities.KindNotebook, "notebook", id)
}

func (s *Store) GetChunk(ctx context.Context, id string) (*entities.Chunk, error) {
	return getRecord[entities.Chunk](ctx, s, entities.KindChunk, "chunk", id)
}

func (s *Store) GetTag(ctx context.Context, id string) (*entities.Tag, error) {
	return getRecord[entities.Tag](ctx, s, entities.KindTag, "tag", id)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*entities.Conversation, error) {
	return getRecord[entities.Conversation](ctx, s, entities.KindConversation, "conversation", id)
}

func (s *Store) GetConversationMessage(ctx context.Context, id string) (*entities.ConversationMessage, error) {
	return getRecord[entities.ConversationMessage](ctx, s, entities.KindConversationMessage, "conversation message", id)
}

func (s *Store) GetChunkConnection(ctx context.Context, id string) (*entities.ChunkConnection, error) {
	return getRecord[entities.ChunkConnection](ctx, s, entities.KindChunkConnection, "chunk connection", id)
}

// FindChunkConnection resolves a pair through its uniqueness item.
func (s *Store) FindChunkConnection(ctx context.Context, sourceChunkID, targetNotebookID string) (*entities.ChunkConnection, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            primaryKey(connectionPairPK(sourceChunkID, targetNotebookID), uniqueSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classifyError("GetItem", err)
	}
	id, ok := out.Item[attrConnID].(*types.AttributeValueMemberS)
	if out.Item == nil || !ok {
		return nil, pkgerrors.NewNotFoundError("chunk connection", sourceChunkID+"->"+targetNotebookID)
	}
	return s.GetChunkConnection(ctx, id.Value)
}

func (s *Store) ListNexiByOwner(ctx context.Context, ownerID string) ([]*entities.Nexus, error) {
	return queryRecords[entities.Nexus](ctx, s, s.byGSI1("OWNER#"+ownerID, "NEXUS#"))
}

func (s *Store) ListNotebooksByNexus(ctx context.Context, nexusID string) ([]*entities.Notebook, error) {
	return queryRecords[entities.Notebook](ctx, s, s.byGSI1("NEXUS#"+nexusID, "NOTEBOOK#"))
}

func (s *Store) ListChunksByNotebook(ctx context.Context, notebookID string) ([]*entities.Chunk, error) {
	return queryRecords[entities.Chunk](ctx, s, s.byGSI1("NOTEBOOK#"+notebookID, "CHUNK#"))
}

func (s *Store) ListTagsByNotebook(ctx context.Context, notebookID string) ([]*entities.Tag, error) {
	return queryRecords[entities.Tag](ctx, s, s.byGSI1("NOTEBOOK#"+notebookID, "TAG#"))
}

func (s *Store) ListChildTags(ctx context.Context, parentTagID string) ([]*entities.Tag, error) {
	return queryRecords[entities.Tag](ctx, s, s.byGSI2("PARENT_TAG#"+parentTagID, "TAG#"))
}

func (s *Store) ListConversationsByNotebook(ctx context.Context, notebookID string) ([]*entities.Conversation, error) {
	return queryRecords[entities.Conversation](ctx, s, s.byGSI1("NOTEBOOK#"+notebookID, "CONVERSATION#"))
}

func (s *Store) ListMessagesByConversation(ctx context.Context, conversationID string) ([]*entities.ConversationMessage, error) {
	return queryRecords[entities.ConversationMessage](ctx, s, s.byGSI1("CONVERSATION#"+conversationID, "MESSAGE#"))
}

func (s *Store) ListChunkTagsByChunk(ctx context.Context, chunkID string) ([]*entities.ChunkTag, error) {
	return queryRecords[entities.ChunkTag](ctx, s, s.byGSI1("CHUNK#"+chunkID, "CHUNK_TAG#"))
}

func (s *Store) ListChunkTagsByTag(ctx context.Context, tagID string) ([]*entities.ChunkTag, error) {
	return queryRecords[entities.ChunkTag](ctx, s, s.byGSI2("TAG#"+tagID, "CHUNK_TAG#"))
}

func (s *Store) ListConduitsBySource(ctx context.Context, chunkID string) ([]*entities.Conduit, error) {
	return queryRecords[entities.Conduit](ctx, s, s.byGSI1("CHUNK#"+chunkID, "CONDUIT#"))
}

func (s *Store) ListConduitsByTarget(ctx context.Context, chunkID string) ([]*entities.Conduit, error) {
	return queryRecords[entities.Conduit](ctx, s, s.byGSI2("CHUNK#"+chunkID, "CONDUIT#"))
}

func (s *Store) ListJemsByChunk(ctx context.Context, chunkID string) ([]*entities.Jem, error) {
	return queryRecords[entities.Jem](ctx, s, s.byGSI1("CHUNK#"+chunkID, "JEM#"))
}

func (s *Store) ListAttachmentsByChunk(ctx context.Context, chunkID string) ([]*entities.Attachment, error) {
	return queryRecords[entities.Attachment](ctx, s, s.byGSI1("CHUNK#"+chunkID, "ATTACHMENT#"))
}

func (s *Store) ListConnectionsBySource(ctx context.Context, chunkID string) ([]*entities.ChunkConnection, error) {
	return queryRecords[entities.ChunkConnection](ctx, s, s.byGSI1("CHUNK#"+chunkID, "CHUNK_CONNECTION#"))
}

func (s *Store) ListAllChunkTags(ctx context.Context) ([]*entities.ChunkTag, error) {
	return scanKind[entities.ChunkTag](ctx, s, entities.KindChunkTag)
}

func (s *Store) ListAllMessages(ctx context.Context) ([]*entities.ConversationMessage, error) {
	return scanKind[entities.ConversationMessage](ctx, s, entities.KindConversationMessage)
}

// Users and ledger

func (s *Store) GetUser(ctx context.Context, id string) (*entities.User, error) {
	return getRecord[entities.User](ctx, s, entities.KindUser, "user", id)
}

func (s *Store) ListUsers(ctx context.Context) ([]*entities.User, error) {
	return scanKind[entities.User](ctx, s, entities.KindUser)
}

func (s *Store) ListShardTransactions(ctx context.Context, userID string, limit int) ([]*entities.ShardTransaction, error) {
	q := s.byGSI1("USER#"+userID, shardTxGroup)
	q.newest = true
	q.limit = limit
	return queryRecords[entities.ShardTransaction](ctx, s, q)
}

func (s *Store) GetModelPricing(ctx context.Context, modelID string) (*entities.ModelPricing, error) {
	return getRecord[entities.ModelPricing](ctx, s, entities.KindModelPricing, "model pricing", modelID)
}
