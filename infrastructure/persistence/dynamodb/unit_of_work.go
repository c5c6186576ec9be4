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

// maxTransactItems is DynamoDB's per-transaction item cap.
const maxTransactItems = 100

type opKind int

const (
	opCreate opKind = iota
	opPut
	opReplace
	opDelete
	opUpdateUser
	opAdvanceOrder
)

// txOp is one staged write. Each maps to a single transaction item, so a
// cancellation reason at index i belongs to ops[i].
type txOp struct {
	kind     opKind
	pk, sk   string
	item     map[string]types.AttributeValue
	expected int64
	// pair marks the uniqueness item of a chunk connection.
	pair   bool
	target string
}

func (o txOp) key() string { return o.pk + "|" + o.sk }

// conflict is the error reported when this operation's condition fails.
func (o txOp) conflict() error {
	switch {
	case o.pair:
		return pkgerrors.NewConflictError("chunk is already connected to that notebook").
			WithCode(pkgerrors.CodeDuplicateConnection)
	case o.kind == opCreate:
		return pkgerrors.NewConflictError(fmt.Sprintf("%s already exists", o.target)).
			WithCode(pkgerrors.CodeDuplicateRecord)
	case o.kind == opUpdateUser:
		return pkgerrors.NewVersionConflictError("user", o.target)
	case o.kind == opReplace:
		return pkgerrors.NewVersionConflictError("record", o.target)
	case o.kind == opAdvanceOrder:
		return pkgerrors.NewVersionConflictError("order", o.target)
	default:
		return pkgerrors.NewConflictError(o.target + " changed during commit")
	}
}

// UnitOfWork stages writes and commits them with TransactWriteItems.
type UnitOfWork struct {
	store *Store
	ops   []txOp
	err   error
}

// Begin starts a unit of work.
func (s *Store) Begin() ports.UnitOfWork {
	return &UnitOfWork{store: s}
}

func (u *UnitOfWork) stage(kind opKind, r entities.Record) {
	item, err := marshalRecord(r)
	if err != nil {
		if u.err == nil {
			u.err = err
		}
		return
	}
	u.ops = append(u.ops, txOp{
		kind:   kind,
		pk:     recordPK(r.RecordKind(), r.RecordID()),
		sk:     recordSK,
		item:   item,
		target: entities.RefOf(r).String(),
	})
}

func (u *UnitOfWork) Create(record entities.Record) {
	u.stage(opCreate, record)
	if conn, ok := record.(*entities.ChunkConnection); ok {
		u.ops = append(u.ops, pairOp(opCreate, conn))
	}
}

func (u *UnitOfWork) Put(record entities.Record) {
	u.stage(opPut, record)
	if conn, ok := record.(*entities.ChunkConnection); ok {
		u.ops = append(u.ops, pairOp(opPut, conn))
	}
}

func (u *UnitOfWork) Replace(record entities.Record) {
	u.stage(opReplace, record)
}

func (u *UnitOfWork) Delete(record entities.Record) {
	u.ops = append(u.ops, txOp{
		kind:   opDelete,
		pk:     recordPK(record.RecordKind(), record.RecordID()),
		sk:     recordSK,
		target: entities.RefOf(record).String(),
	})
	if conn, ok := record.(*entities.ChunkConnection); ok {
		u.ops = append(u.ops, pairOp(opDelete, conn))
	}
}

func pairOp(kind opKind, conn *entities.ChunkConnection) txOp {
	return txOp{
		kind:   kind,
		pk:     connectionPairPK(conn.SourceChunkID, conn.TargetNotebookID),
		sk:     uniqueSK,
		item:   connectionPairItem(conn),
		pair:   true,
		target: conn.SourceChunkID + "->" + conn.TargetNotebookID,
	}
}

func (u *UnitOfWork) UpdateUser(user *entities.User, expectedVersion int) {
	next := *user
	next.Version = expectedVersion + 1
	before := len(u.ops)
	u.stage(opUpdateUser, &next)
	if len(u.ops) > before {
		u.ops[before].expected = int64(expectedVersion)
		u.ops[before].target = user.ID
	}
}

func (u *UnitOfWork) AdvanceOrder(key valueobjects.OrderKey, expectedVersion int64) {
	u.ops = append(u.ops, txOp{
		kind:     opAdvanceOrder,
		pk:       orderHeadPK(key),
		sk:       orderHeadSK,
		expected: expectedVersion,
		target:   key.String(),
	})
}

func (u *UnitOfWork) Len() int {
	return len(u.ops)
}

// Commit writes the staged operations. Up to maxTransactItems commit in one
// atomic transaction. Larger units commit in consecutive batches with the
// conditional operations first, so a failed condition is reported before
// any unconditional write lands. A batch that fails for another reason
// leaves earlier batches applied; callers rebuild their writes from current
// state on retry.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.err != nil {
		return pkgerrors.NewInternalError("unit of work could not be staged").WithCause(u.err)
	}
	ops := compact(u.ops)
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > maxTransactItems {
		ops = conditionsFirst(ops)
	}

	for start := 0; start < len(ops); start += maxTransactItems {
		end := min(start+maxTransactItems, len(ops))
		batch := ops[start:end]

		items := make([]types.TransactWriteItem, 0, len(batch))
		for _, op := range batch {
			item, err := u.store.transactItem(op)
			if err != nil {
				return err
			}
			items = append(items, item)
		}

		_, err := u.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		if err != nil {
			u.store.logger.Debug("Transaction cancelled",
				zap.Int("batchStart", start),
				zap.Int("batchSize", len(batch)),
				zap.Error(err),
			)
			return cancellationError(err, batch)
		}
	}

	u.store.logger.Debug("Committed unit of work", zap.Int("operations", len(ops)))
	return nil
}

// compact folds repeated writes to one key into a single operation, since a
// transaction may touch each item only once. The last write wins; a create
// followed by a put keeps the create's condition, and a create after a
// delete in the same unit replaces the record.
func compact(ops []txOp) []txOp {
	index := make(map[string]int, len(ops))
	out := make([]txOp, 0, len(ops))
	for _, op := range ops {
		i, seen := index[op.key()]
		if !seen {
			index[op.key()] = len(out)
			out = append(out, op)
			continue
		}
		prev := out[i]
		switch {
		case prev.kind == opCreate && (op.kind == opPut || op.kind == opReplace):
			op.kind = opCreate
		case prev.kind == opReplace && op.kind == opPut:
			op.kind = opReplace
		case prev.kind == opDelete && op.kind == opCreate:
			op.kind = opPut
		}
		out[i] = op
	}
	return out
}

// conditionsFirst moves conditional operations ahead of unconditional ones,
// keeping the relative order within each group.
func conditionsFirst(ops []txOp) []txOp {
	out := make([]txOp, 0, len(ops))
	for _, op := range ops {
		if op.conditional() {
			out = append(out, op)
		}
	}
	for _, op := range ops {
		if !op.conditional() {
			out = append(out, op)
		}
	}
	return out
}

func (o txOp) conditional() bool {
	return o.kind != opPut && o.kind != opDelete
}

// transactItem renders an operation with its condition.
func (s *Store) transactItem(op txOp) (types.TransactWriteItem, error) {
	table := aws.String(s.tableName)
	switch op.kind {
	case opCreate:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:           table,
			Item:                op.item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}}, nil

	case opPut:
		return types.TransactWriteItem{Put: &types.Put{TableName: table, Item: op.item}}, nil

	case opReplace:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:           table,
			Item:                op.item,
			ConditionExpression: aws.String("attribute_exists(PK)"),
		}}, nil

	case opDelete:
		return types.TransactWriteItem{Delete: &types.Delete{TableName: table, Key: primaryKey(op.pk, op.sk)}}, nil

	case opUpdateUser:
		cond := expression.Name(attrVersion).Equal(expression.Value(op.expected))
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("failed to build user condition: %w", err)
		}
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                 table,
			Item:                      op.item,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil

	case opAdvanceOrder:
		cond := expression.Name(attrVersion).Equal(expression.Value(op.expected))
		if op.expected == 0 {
			cond = expression.Or(expression.AttributeNotExists(expression.Name(attrPK)), cond)
		}
		update := expression.Set(expression.Name(attrVersion), expression.Value(op.expected+1)).
			Set(expression.Name(attrEntityType), expression.Value(entityOrder))
		expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("failed to build order head update: %w", err)
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       primaryKey(op.pk, op.sk),
			ConditionExpression:       expr.Condition(),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("unknown operation kind %d", op.kind)
}
