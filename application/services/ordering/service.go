// Package ordering keeps heterogeneous content in a stable, user-controlled
// order within its locus.
//
// Every content record (chunk, sub-notebook, tag, conversation message) is
// placed by a ContentItem carrying an integer position inside one sibling
// list, identified by (locusID, parentID). Mutations on a sibling list are
// serialized through the list's order head: each one reads the head version
// before reading the siblings and commits its writes together with a
// conditional advance of the head, so a concurrent writer that computed its
// positions from stale siblings loses and retries.
package ordering

import (
	"context"
	"time"

	"go.uber.org/zap"

	"loci/application/ports"
	"loci/application/services"
	"loci/domain/config"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// PlaceRequest describes a new placement.
type PlaceRequest struct {
	LocusID     string
	LocusType   valueobjects.LocusType
	ContentType valueobjects.ContentType
	ContentID   string
	ParentID    string
}

// Key returns the sibling list the placement goes into.
func (r PlaceRequest) Key() valueobjects.OrderKey {
	return valueobjects.OrderKey{LocusID: r.LocusID, ParentID: r.ParentID}
}

func (r PlaceRequest) validate() error {
	if r.LocusID == "" {
		return pkgerrors.NewValidationError("locusId is required")
	}
	if _, err := valueobjects.ParseLocusType(string(r.LocusType)); err != nil {
		return err
	}
	if !r.ContentType.Valid() {
		return pkgerrors.NewValidationError("unknown content type " + string(r.ContentType))
	}
	if r.ContentID == "" {
		return pkgerrors.NewValidationError("contentId is required")
	}
	return nil
}

// Destination is where a moved item lands.
type Destination struct {
	LocusID   string
	LocusType valueobjects.LocusType
	ParentID  string
}

// Key returns the destination sibling list.
func (d Destination) Key() valueobjects.OrderKey {
	return valueobjects.OrderKey{LocusID: d.LocusID, ParentID: d.ParentID}
}

// MoveRequest relocates one content item. A nil NewPosition appends at the
// destination.
type MoveRequest struct {
	ItemID string
	Destination
	NewPosition *int
}

// Service is the content ordering engine.
type Service struct {
	items      ports.ContentItemRepository
	knowledge  ports.KnowledgeRepository
	uowFactory ports.UnitOfWorkFactory
	metrics    ports.Metrics
	clock      ports.Clock
	cfg        *config.DomainConfig
	policy     services.RetryPolicy
	logger     *zap.Logger
}

// NewService creates a new ordering service
func NewService(
	items ports.ContentItemRepository,
	knowledge ports.KnowledgeRepository,
	uowFactory ports.UnitOfWorkFactory,
	metrics ports.Metrics,
	clock ports.Clock,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *Service {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if clock == nil {
		clock = ports.SystemClock
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		items:      items,
		knowledge:  knowledge,
		uowFactory: uowFactory,
		metrics:    metrics,
		clock:      clock,
		cfg:        cfg,
		policy:     services.PolicyFrom(cfg),
		logger:     logger,
	}
}

// NextPosition returns one past the highest position in the sibling list, or
// 0 for an empty list.
func (s *Service) NextPosition(ctx context.Context, locusID, parentID string) (int, error) {
	siblings, err := s.items.ListContentItems(ctx, valueobjects.OrderKey{LocusID: locusID, ParentID: parentID})
	if err != nil {
		return 0, err
	}
	return entities.MaxPosition(siblings) + 1, nil
}

// AppendContentItem places new content after its last sibling.
func (s *Service) AppendContentItem(ctx context.Context, principal valueobjects.Principal, req PlaceRequest) (*entities.ContentItem, error) {
	return s.place(ctx, "append", principal, req, valueobjects.PlacementBottom)
}

// InsertContentItemAtTop places new content at position 0, shifting every
// existing sibling down by one.
func (s *Service) InsertContentItemAtTop(ctx context.Context, principal valueobjects.Principal, req PlaceRequest) (*entities.ContentItem, error) {
	return s.place(ctx, "insert_top", principal, req, valueobjects.PlacementTop)
}

func (s *Service) place(ctx context.Context, op string, principal valueobjects.Principal, req PlaceRequest, placement valueobjects.Placement) (*entities.ContentItem, error) {
	if err := principal.RequireAny(); err != nil {
		return nil, err
	}
	var item *entities.ContentItem
	err := s.mutate(ctx, op, func(uow ports.UnitOfWork) error {
		var err error
		item, err = s.StagePlacement(ctx, uow, principal.OwnerKey(), req, placement)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// StagePlacement registers a new content item in uow without committing, so
// callers can create the content record and its placement together. The
// caller must re-stage on retry.
func (s *Service) StagePlacement(ctx context.Context, uow ports.UnitOfWork, ownerID string, req PlaceRequest, placement valueobjects.Placement) (*entities.ContentItem, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	key := req.Key()
	version, siblings, err := s.readList(ctx, key)
	if err != nil {
		return nil, err
	}
	uow.AdvanceOrder(key, version)

	now := s.clock.Now()
	position := entities.MaxPosition(siblings) + 1
	if placement == valueobjects.PlacementTop {
		s.shiftDown(uow, key, siblings, now)
		position = 0
	}

	item := entities.NewContentItem(req.LocusID, req.LocusType, req.ContentType, req.ContentID, req.ParentID, ownerID, position, now)
	uow.Create(item)
	return item, nil
}

// shiftDown moves every sibling one position further from the top.
func (s *Service) shiftDown(uow ports.UnitOfWork, key valueobjects.OrderKey, siblings []*entities.ContentItem, now time.Time) {
	if len(siblings) > s.cfg.SiblingSoftLimit {
		s.logger.Warn("Top insertion rewrites a large sibling list",
			zap.String("list", key.String()),
			zap.Int("siblings", len(siblings)),
		)
	}
	for _, sibling := range siblings {
		sibling.Position++
		sibling.UpdatedAt = now
		uow.Replace(sibling)
	}
}

// ReorderContentItems rewrites positions so the listed content IDs appear in
// the given order. IDs with no item in the list are ignored, items not named
// keep their positions, and a repeated ID keeps its first index. Reordering
// into the current order writes nothing.
func (s *Service) ReorderContentItems(ctx context.Context, locusID string, contentType valueobjects.ContentType, orderedContentIDs []string, parentID string) error {
	if locusID == "" {
		return pkgerrors.NewValidationError("locusId is required")
	}
	if !contentType.Valid() {
		return pkgerrors.NewValidationError("unknown content type " + string(contentType))
	}
	key := valueobjects.OrderKey{LocusID: locusID, ParentID: parentID}

	return s.mutate(ctx, "reorder", func(uow ports.UnitOfWork) error {
		version, siblings, err := s.readList(ctx, key)
		if err != nil {
			return err
		}

		byContent := make(map[string]*entities.ContentItem, len(siblings))
		for _, item := range siblings {
			if item.ContentType != contentType {
				continue
			}
			if _, seen := byContent[item.ContentID]; !seen {
				byContent[item.ContentID] = item
			}
		}

		now := s.clock.Now()
		assigned := make(map[string]bool, len(orderedContentIDs))
		for index, contentID := range orderedContentIDs {
			item, ok := byContent[contentID]
			if !ok || assigned[contentID] {
				continue
			}
			assigned[contentID] = true
			if item.Position == index {
				continue
			}
			item.Position = index
			item.UpdatedAt = now
			uow.Replace(item)
		}

		if uow.Len() == 0 {
			return nil
		}
		uow.AdvanceOrder(key, version)
		return nil
	})
}

// MoveContentItem relocates an item to another locus or parent, at
// NewPosition when given and after the last destination sibling otherwise.
func (s *Service) MoveContentItem(ctx context.Context, req MoveRequest) (*entities.ContentItem, error) {
	if req.NewPosition != nil && *req.NewPosition < 0 {
		return nil, pkgerrors.NewValidationError("newPosition must not be negative")
	}
	var moved *entities.ContentItem
	err := s.mutate(ctx, "move", func(uow ports.UnitOfWork) error {
		item, err := s.items.GetContentItem(ctx, req.ItemID)
		if err != nil {
			return err
		}
		var position *int
		if req.NewPosition != nil {
			p := *req.NewPosition
			position = &p
		}
		moved, err = s.stageMove(ctx, uow, item, req.Destination, position, valueobjects.PlacementBottom)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// MoveContentItemTo relocates an item to the top or the bottom of the
// destination list. Moving to the top shifts the other destination siblings.
func (s *Service) MoveContentItemTo(ctx context.Context, itemID string, dst Destination, placement valueobjects.Placement) (*entities.ContentItem, error) {
	var moved *entities.ContentItem
	err := s.mutate(ctx, "move_"+string(placement), func(uow ports.UnitOfWork) error {
		item, err := s.items.GetContentItem(ctx, itemID)
		if err != nil {
			return err
		}
		moved, err = s.stageMove(ctx, uow, item, dst, nil, placement)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// StageMove registers the relocation of item in uow without committing.
func (s *Service) StageMove(ctx context.Context, uow ports.UnitOfWork, item *entities.ContentItem, dst Destination, placement valueobjects.Placement) (*entities.ContentItem, error) {
	return s.stageMove(ctx, uow, item, dst, nil, placement)
}

// StageMoveAt registers the relocation of item to an explicit position.
func (s *Service) StageMoveAt(ctx context.Context, uow ports.UnitOfWork, item *entities.ContentItem, dst Destination, position int) (*entities.ContentItem, error) {
	if position < 0 {
		return nil, pkgerrors.NewValidationError("newPosition must not be negative")
	}
	return s.stageMove(ctx, uow, item, dst, &position, valueobjects.PlacementBottom)
}

func (s *Service) stageMove(ctx context.Context, uow ports.UnitOfWork, item *entities.ContentItem, dst Destination, position *int, placement valueobjects.Placement) (*entities.ContentItem, error) {
	if dst.LocusID == "" {
		return nil, pkgerrors.NewValidationError("destination locusId is required")
	}
	if _, err := valueobjects.ParseLocusType(string(dst.LocusType)); err != nil {
		return nil, err
	}

	srcKey, dstKey := item.OrderKey(), dst.Key()
	if srcKey != dstKey {
		srcVersion, err := s.items.GetOrderVersion(ctx, srcKey)
		if err != nil {
			return nil, err
		}
		uow.AdvanceOrder(srcKey, srcVersion)
	}
	dstVersion, siblings, err := s.readList(ctx, dstKey)
	if err != nil {
		return nil, err
	}
	uow.AdvanceOrder(dstKey, dstVersion)

	others := siblings[:0]
	for _, sibling := range siblings {
		if sibling.ID != item.ID {
			others = append(others, sibling)
		}
	}

	now := s.clock.Now()
	var target int
	switch {
	case position != nil:
		target = *position
	case placement == valueobjects.PlacementTop:
		s.shiftDown(uow, dstKey, others, now)
		target = 0
	default:
		target = entities.MaxPosition(others) + 1
	}

	item.MoveTo(dst.LocusID, dst.LocusType, dst.ParentID, target, now)
	uow.Replace(item)
	return item, nil
}

// ListContentItems returns a sibling list sorted by position, optionally
// narrowed to one content type.
func (s *Service) ListContentItems(ctx context.Context, locusID string, contentType *valueobjects.ContentType, parentID string) ([]*entities.ContentItem, error) {
	if locusID == "" {
		return nil, pkgerrors.NewValidationError("locusId is required")
	}
	items, err := s.items.ListContentItems(ctx, valueobjects.OrderKey{LocusID: locusID, ParentID: parentID})
	if err != nil {
		return nil, err
	}

	if contentType != nil {
		filtered := items[:0]
		for _, item := range items {
			if item.ContentType == *contentType {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	// The index does not promise position order.
	entities.SortContentItems(items)
	return items, nil
}

// GetLocusContentItems lists and enriches a sibling list.
func (s *Service) GetLocusContentItems(ctx context.Context, locusID string, contentType *valueobjects.ContentType, parentID string) ([]EnrichedItem, error) {
	items, err := s.ListContentItems(ctx, locusID, contentType, parentID)
	if err != nil {
		return nil, err
	}
	return s.EnrichContentItems(ctx, items)
}

// RemoveContentItemsFor stages deletion of every placement of one content
// record and advances the order heads of the lists it leaves. It returns the
// items staged for deletion.
func (s *Service) RemoveContentItemsFor(ctx context.Context, uow ports.UnitOfWork, contentType valueobjects.ContentType, contentID string) ([]*entities.ContentItem, error) {
	return s.NewBatch(uow).RemoveContentFor(ctx, contentType, contentID)
}

// readList reads the order head before the siblings, so any write that lands
// between the two reads makes the head stale and fails the commit.
func (s *Service) readList(ctx context.Context, key valueobjects.OrderKey) (int64, []*entities.ContentItem, error) {
	version, err := s.items.GetOrderVersion(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	siblings, err := s.items.ListContentItems(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	return version, siblings, nil
}

// mutate runs stage in a fresh unit of work per attempt and commits it.
func (s *Service) mutate(ctx context.Context, op string, stage func(uow ports.UnitOfWork) error) error {
	start := time.Now()
	err := services.WithOptimisticRetry(ctx, s.policy, s.logger, "ordering."+op, func(int) error {
		uow := s.uowFactory.Begin()
		if err := stage(uow); err != nil {
			return err
		}
		if uow.Len() == 0 {
			return nil
		}
		return uow.Commit(ctx)
	})
	s.metrics.OrderingMutation(op, time.Since(start), err)
	if err != nil {
		s.logger.Debug("Ordering mutation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}
