package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loci/application/ports"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

type opType int

const (
	opCreate opType = iota
	opPut
	opReplace
	opDelete
	opUpdateUser
	opAdvanceOrder
)

type operation struct {
	typ             opType
	record          entities.Record
	key             valueobjects.OrderKey
	expectedVersion int64
}

// UnitOfWork stages writes and applies them under the store lock, all or
// nothing.
type UnitOfWork struct {
	store *Store
	ops   []operation
}

// Begin starts a unit of work.
func (s *Store) Begin() ports.UnitOfWork {
	return &UnitOfWork{store: s}
}

func (u *UnitOfWork) Create(record entities.Record) {
	u.ops = append(u.ops, operation{typ: opCreate, record: cloneRecord(record)})
}

func (u *UnitOfWork) Put(record entities.Record) {
	u.ops = append(u.ops, operation{typ: opPut, record: cloneRecord(record)})
}

func (u *UnitOfWork) Replace(record entities.Record) {
	u.ops = append(u.ops, operation{typ: opReplace, record: cloneRecord(record)})
}

func (u *UnitOfWork) Delete(record entities.Record) {
	u.ops = append(u.ops, operation{typ: opDelete, record: cloneRecord(record)})
}

func (u *UnitOfWork) UpdateUser(user *entities.User, expectedVersion int) {
	u.ops = append(u.ops, operation{typ: opUpdateUser, record: cloneRecord(user), expectedVersion: int64(expectedVersion)})
}

func (u *UnitOfWork) AdvanceOrder(key valueobjects.OrderKey, expectedVersion int64) {
	u.ops = append(u.ops, operation{typ: opAdvanceOrder, key: key, expectedVersion: expectedVersion})
}

func (u *UnitOfWork) Len() int {
	return len(u.ops)
}

// stagedRecord is a pending write; a nil record means deleted.
type stagedRecord struct {
	record entities.Record
}

// Commit checks every condition against the store as modified by earlier
// operations in the same unit, then applies them together.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkError("Commit"); err != nil {
		return err
	}
	s.commits++
	if s.failCommitAt > 0 && s.commits == s.failCommitAt {
		return s.commitErr
	}

	staged := make(map[entities.RecordRef]stagedRecord)
	heads := make(map[valueobjects.OrderKey]int64)

	lookup := func(ref entities.RecordRef) (entities.Record, bool) {
		if st, ok := staged[ref]; ok {
			return st.record, st.record != nil
		}
		rec, ok := s.records[ref.Kind][ref.ID]
		return rec, ok
	}

	for _, op := range u.ops {
		switch op.typ {
		case opCreate:
			ref := entities.RefOf(op.record)
			if _, exists := lookup(ref); exists {
				return pkgerrors.NewConflictError(fmt.Sprintf("%s already exists", ref)).
					WithCode(pkgerrors.CodeDuplicateRecord)
			}
			if conn, ok := op.record.(*entities.ChunkConnection); ok && s.connectionExists(staged, conn) {
				return pkgerrors.NewConflictError("chunk is already connected to that notebook").
					WithCode(pkgerrors.CodeDuplicateConnection)
			}
			staged[ref] = stagedRecord{record: op.record}

		case opPut:
			staged[entities.RefOf(op.record)] = stagedRecord{record: op.record}

		case opReplace:
			ref := entities.RefOf(op.record)
			if _, exists := lookup(ref); !exists {
				return pkgerrors.NewVersionConflictError(string(ref.Kind), ref.ID)
			}
			staged[ref] = stagedRecord{record: op.record}

		case opDelete:
			staged[entities.RefOf(op.record)] = stagedRecord{}

		case opUpdateUser:
			ref := entities.RefOf(op.record)
			current, exists := lookup(ref)
			if !exists || int64(current.(*entities.User).Version) != op.expectedVersion {
				return pkgerrors.NewVersionConflictError("user", ref.ID)
			}
			next := cloneRecord(op.record).(*entities.User)
			next.Version = int(op.expectedVersion) + 1
			staged[ref] = stagedRecord{record: next}

		case opAdvanceOrder:
			current, ok := heads[op.key]
			if !ok {
				current = s.orderHeads[op.key]
			}
			if current != op.expectedVersion {
				return pkgerrors.NewVersionConflictError("order", op.key.String())
			}
			heads[op.key] = op.expectedVersion + 1
		}
	}

	for ref, st := range staged {
		if st.record == nil {
			delete(s.records[ref.Kind], ref.ID)
			continue
		}
		s.putLocked(st.record)
	}
	for key, version := range heads {
		s.orderHeads[key] = version
	}

	s.logger.Debug("Committed unit of work", zap.Int("operations", len(u.ops)))
	return nil
}

func (s *Store) connectionExists(staged map[entities.RecordRef]stagedRecord, conn *entities.ChunkConnection) bool {
	matches := func(c *entities.ChunkConnection) bool {
		return c.ID != conn.ID && c.SourceChunkID == conn.SourceChunkID && c.TargetNotebookID == conn.TargetNotebookID
	}
	for ref, st := range staged {
		if ref.Kind != entities.KindChunkConnection || st.record == nil {
			continue
		}
		if matches(st.record.(*entities.ChunkConnection)) {
			return true
		}
	}
	for id, rec := range s.records[entities.KindChunkConnection] {
		ref := entities.RecordRef{Kind: entities.KindChunkConnection, ID: id}
		if st, ok := staged[ref]; ok && st.record == nil {
			continue
		}
		if matches(rec.(*entities.ChunkConnection)) {
			return true
		}
	}
	return false
}

type lockEntry struct {
	token     int64
	expiresAt time.Time
}

// Acquire takes an in-process named lock.
func (s *Store) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if held, ok := s.locks[name]; ok && held.expiresAt.After(now) {
		return nil, pkgerrors.NewConflictError(fmt.Sprintf("lock %s is held", name))
	}
	token := now.UnixNano()
	s.locks[name] = lockEntry{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if held, ok := s.locks[name]; ok && held.token == token {
			delete(s.locks, name)
		}
		return nil
	}, nil
}

// cloneRecord copies a record so callers never share memory with the store.
func cloneRecord(r entities.Record) entities.Record {
	switch v := r.(type) {
	case *entities.Nexus:
		c := *v
		return &c
	case *entities.Notebook:
		c := *v
		return &c
	case *entities.Chunk:
		c := *v
		return &c
	case *entities.Tag:
		c := *v
		return &c
	case *entities.ChunkTag:
		c := *v
		return &c
	case *entities.Conduit:
		c := *v
		return &c
	case *entities.Jem:
		c := *v
		return &c
	case *entities.Attachment:
		c := *v
		return &c
	case *entities.ChunkConnection:
		c := *v
		return &c
	case *entities.Conversation:
		c := *v
		return &c
	case *entities.ConversationMessage:
		c := *v
		return &c
	case *entities.ContentItem:
		c := *v
		return &c
	case *entities.User:
		c := *v
		if v.PlacementPreferences != nil {
			c.PlacementPreferences = make(map[valueobjects.PlacementCategory]valueobjects.Placement, len(v.PlacementPreferences))
			for k, p := range v.PlacementPreferences {
				c.PlacementPreferences[k] = p
			}
		}
		return &c
	case *entities.ShardTransaction:
		c := *v
		if v.Usage != nil {
			usage := *v.Usage
			c.Usage = &usage
		}
		return &c
	case *entities.ModelPricing:
		c := *v
		return &c
	default:
		panic(fmt.Sprintf("memory store: unsupported record type %T", r))
	}
}
