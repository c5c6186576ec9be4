package dynamodb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
)

// Single-table layout. Every record lives at PK=<KIND>#<id>, SK=RECORD.
// GSI1 groups records under the container they are listed by; GSI2 carries
// the secondary lookup a few kinds need.
const (
	attrPK         = "PK"
	attrSK         = "SK"
	attrGSI1PK     = "GSI1PK"
	attrGSI1SK     = "GSI1SK"
	attrGSI2PK     = "GSI2PK"
	attrGSI2SK     = "GSI2SK"
	attrEntityType = "EntityType"
	attrVersion    = "Version"

	recordSK     = "RECORD"
	orderHeadSK  = "HEAD"
	uniqueSK     = "UNIQUE"
	lockSK       = "LOCK"
	entityOrder  = "ORDER_HEAD"
	entityPair   = "CONNECTION_PAIR"
	entityLock   = "LOCK"
	attrConnID   = "ConnectionID"
	shardTxGroup = "SHARD_TX#"
)

// indexKeys are the secondary index attributes of one record.
type indexKeys struct {
	GSI1PK, GSI1SK string
	GSI2PK, GSI2SK string
}

func recordPK(kind entities.Kind, id string) string {
	return string(kind) + "#" + id
}

func orderHeadPK(key valueobjects.OrderKey) string {
	return "ORDER#" + key.String()
}

func connectionPairPK(sourceChunkID, targetNotebookID string) string {
	return "CONNECTION_PAIR#" + sourceChunkID + "#" + targetNotebookID
}

func lockPK(name string) string {
	return "LOCK#" + name
}

// itemPrefix is the GSI1 sort key prefix of one content item sibling list.
func itemPrefix(parentID string) string {
	return "ITEM#" + parentID + "#"
}

func contentKey(contentType valueobjects.ContentType, contentID string) string {
	return "CONTENT#" + string(contentType) + "#" + contentID
}

// keysFor computes the index attributes for a record.
func keysFor(r entities.Record) indexKeys {
	switch rec := r.(type) {
	case *entities.ContentItem:
		return indexKeys{
			GSI1PK: "LOCUS#" + rec.LocusID,
			GSI1SK: itemPrefix(rec.ParentID) + rec.ID,
			GSI2PK: contentKey(rec.ContentType, rec.ContentID),
			GSI2SK: "ITEM#" + rec.ID,
		}
	case *entities.Nexus:
		if rec.OwnerID == "" {
			return indexKeys{}
		}
		return indexKeys{GSI1PK: "OWNER#" + rec.OwnerID, GSI1SK: "NEXUS#" + rec.ID}
	case *entities.Notebook:
		return indexKeys{GSI1PK: "NEXUS#" + rec.NexusID, GSI1SK: "NOTEBOOK#" + rec.ID}
	case *entities.Chunk:
		return indexKeys{GSI1PK: "NOTEBOOK#" + rec.NotebookID, GSI1SK: "CHUNK#" + rec.ID}
	case *entities.Tag:
		k := indexKeys{GSI1PK: "NOTEBOOK#" + rec.NotebookID, GSI1SK: "TAG#" + rec.ID}
		if rec.ParentTagID != "" {
			k.GSI2PK, k.GSI2SK = "PARENT_TAG#"+rec.ParentTagID, "TAG#"+rec.ID
		}
		return k
	case *entities.Conversation:
		return indexKeys{GSI1PK: "NOTEBOOK#" + rec.NotebookID, GSI1SK: "CONVERSATION#" + rec.ID}
	case *entities.ConversationMessage:
		return indexKeys{GSI1PK: "CONVERSATION#" + rec.ConversationID, GSI1SK: "MESSAGE#" + rec.ID}
	case *entities.ChunkTag:
		return indexKeys{
			GSI1PK: "CHUNK#" + rec.ChunkID, GSI1SK: "CHUNK_TAG#" + rec.TagID,
			GSI2PK: "TAG#" + rec.TagID, GSI2SK: "CHUNK_TAG#" + rec.ChunkID,
		}
	case *entities.Conduit:
		return indexKeys{
			GSI1PK: "CHUNK#" + rec.SourceChunkID, GSI1SK: "CONDUIT#" + rec.ID,
			GSI2PK: "CHUNK#" + rec.TargetChunkID, GSI2SK: "CONDUIT#" + rec.ID,
		}
	case *entities.Jem:
		return indexKeys{GSI1PK: "CHUNK#" + rec.ChunkID, GSI1SK: "JEM#" + rec.ID}
	case *entities.Attachment:
		return indexKeys{GSI1PK: "CHUNK#" + rec.ChunkID, GSI1SK: "ATTACHMENT#" + rec.ID}
	case *entities.ChunkConnection:
		return indexKeys{GSI1PK: "CHUNK#" + rec.SourceChunkID, GSI1SK: "CHUNK_CONNECTION#" + rec.ID}
	case *entities.ShardTransaction:
		// ULIDs sort by time, so the ledger reads newest first off the index.
		return indexKeys{GSI1PK: "USER#" + rec.UserID, GSI1SK: shardTxGroup + rec.ID}
	default:
		return indexKeys{}
	}
}

func stringAttr(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func primaryKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrPK: stringAttr(pk), attrSK: stringAttr(sk)}
}

func recordKey(r entities.Record) map[string]types.AttributeValue {
	return primaryKey(recordPK(r.RecordKind(), r.RecordID()), recordSK)
}

// marshalRecord encodes a record body together with its table keys.
func marshalRecord(r entities.Record) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", entities.RefOf(r), err)
	}
	item[attrPK] = stringAttr(recordPK(r.RecordKind(), r.RecordID()))
	item[attrSK] = stringAttr(recordSK)
	item[attrEntityType] = stringAttr(string(r.RecordKind()))

	// Index key attributes cannot be empty strings.
	keys := keysFor(r)
	for name, value := range map[string]string{
		attrGSI1PK: keys.GSI1PK,
		attrGSI1SK: keys.GSI1SK,
		attrGSI2PK: keys.GSI2PK,
		attrGSI2SK: keys.GSI2SK,
	} {
		if value != "" {
			item[name] = stringAttr(value)
		}
	}
	return item, nil
}

// unmarshalRecord decodes a record body; table keys are ignored.
func unmarshalRecord[T any](item map[string]types.AttributeValue) (*T, error) {
	var out T
	if err := attributevalue.UnmarshalMap(item, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &out, nil
}

// connectionPairItem reserves a (source chunk, target notebook) pair.
func connectionPairItem(conn *entities.ChunkConnection) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK:         stringAttr(connectionPairPK(conn.SourceChunkID, conn.TargetNotebookID)),
		attrSK:         stringAttr(uniqueSK),
		attrEntityType: stringAttr(entityPair),
		attrConnID:     stringAttr(conn.ID),
	}
}
