package ports

import (
	"context"
	"time"

	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
)

// UnitOfWork collects writes that must be attempted together. Nothing is
// written until Commit. Stores commit the whole group atomically where they
// can; a store with a per-transaction item cap commits oversized groups in
// consecutive batches, in registration order.
//
// A failed condition aborts the commit with a CONFLICT AppError:
//   - Create on an existing record: code DUPLICATE_RECORD, or
//     DUPLICATE_CONNECTION for a chunk connection pair.
//   - Replace on a record that no longer exists, or UpdateUser or
//     AdvanceOrder on a stale version: code VERSION_CONFLICT.
type UnitOfWork interface {
	// Create inserts a record that must not exist yet.
	Create(record entities.Record)

	// Put inserts or replaces a record.
	Put(record entities.Record)

	// Replace overwrites a record that must still exist, so a write based on
	// an earlier read cannot bring back a record deleted since.
	Replace(record entities.Record)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(record entities.Record)

	// UpdateUser replaces a user whose stored version must equal
	// expectedVersion. The stored version becomes expectedVersion+1.
	UpdateUser(user *entities.User, expectedVersion int)

	// AdvanceOrder bumps a sibling list's order head from expectedVersion to
	// expectedVersion+1, serializing ordering mutations on that list.
	AdvanceOrder(key valueobjects.OrderKey, expectedVersion int64)

	// Len is the number of registered operations.
	Len() int

	// Commit applies the registered operations.
	Commit(ctx context.Context) error
}

// UnitOfWorkFactory starts units of work.
type UnitOfWorkFactory interface {
	Begin() UnitOfWork
}

// JobLock serializes a background job across processes.
type JobLock interface {
	// Acquire takes the named lock for ttl. It returns a CONFLICT AppError
	// when another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}
