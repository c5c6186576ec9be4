package ordering

import (
	"context"

	"loci/application/ports"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
)

// Batch stages several ordering writes into one unit of work and advances
// each order head it touches exactly once. Removals advance heads too, so a
// concurrent reorder cannot write a removed item back.
type Batch struct {
	svc    *Service
	uow    ports.UnitOfWork
	locked map[valueobjects.OrderKey]bool
}

// NewBatch binds a batch to uow.
func (s *Service) NewBatch(uow ports.UnitOfWork) *Batch {
	return &Batch{svc: s, uow: uow, locked: make(map[valueobjects.OrderKey]bool)}
}

// Lock registers the advance of key's order head. Call it before reading
// the list's siblings.
func (b *Batch) Lock(ctx context.Context, key valueobjects.OrderKey) error {
	if b.locked[key] {
		return nil
	}
	version, err := b.svc.items.GetOrderVersion(ctx, key)
	if err != nil {
		return err
	}
	b.uow.AdvanceOrder(key, version)
	b.locked[key] = true
	return nil
}

// Remove stages deletion of items.
func (b *Batch) Remove(ctx context.Context, items ...*entities.ContentItem) error {
	for _, item := range items {
		if err := b.Lock(ctx, item.OrderKey()); err != nil {
			return err
		}
		b.uow.Delete(item)
	}
	return nil
}

// RemoveContentFor stages deletion of every placement of one content record.
func (b *Batch) RemoveContentFor(ctx context.Context, contentType valueobjects.ContentType, contentID string) ([]*entities.ContentItem, error) {
	items, err := b.svc.items.ListContentItemsByContent(ctx, contentType, contentID)
	if err != nil {
		return nil, err
	}
	if err := b.Remove(ctx, items...); err != nil {
		return nil, err
	}
	return items, nil
}

// AppendAll moves items, in the given order, after the last sibling of dst.
func (b *Batch) AppendAll(ctx context.Context, items []*entities.ContentItem, dst Destination) error {
	if len(items) == 0 {
		return nil
	}
	moving := make(map[string]bool, len(items))
	for _, item := range items {
		if err := b.Lock(ctx, item.OrderKey()); err != nil {
			return err
		}
		moving[item.ID] = true
	}
	if err := b.Lock(ctx, dst.Key()); err != nil {
		return err
	}

	siblings, err := b.svc.items.ListContentItems(ctx, dst.Key())
	if err != nil {
		return err
	}
	staying := siblings[:0]
	for _, sibling := range siblings {
		if !moving[sibling.ID] {
			staying = append(staying, sibling)
		}
	}

	next := entities.MaxPosition(staying) + 1
	now := b.svc.clock.Now()
	for i, item := range items {
		item.MoveTo(dst.LocusID, dst.LocusType, dst.ParentID, next+i, now)
		b.uow.Replace(item)
	}
	return nil
}
