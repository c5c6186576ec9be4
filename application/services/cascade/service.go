// Package cascade deletes containers together with everything that refers to
// them. The store has no foreign keys, so each deletion is planned by walking
// the references and then committed in units of work: one per chunk, then
// one per remaining group. A failure aborts the cascade; work already
// committed stays committed and is logged for repair.
package cascade

import (
	"context"

	"go.uber.org/zap"

	"loci/application/ports"
	"loci/application/services"
	"loci/application/services/ordering"
	"loci/application/services/scoping"
	"loci/domain/config"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	"loci/domain/events"
	pkgerrors "loci/pkg/errors"
)

// Options controls a cascade.
type Options struct {
	// DryRun plans the cascade and reports it without writing.
	DryRun bool
}

// Report lists what a cascade deleted, or would delete on a dry run.
type Report struct {
	Root    entities.RecordRef   `json:"root"`
	Deleted []entities.RecordRef `json:"deleted"`
	Updated []entities.RecordRef `json:"updated,omitempty"`
	DryRun  bool                 `json:"dryRun"`
}

// Service is the cascade deletion orchestrator.
type Service struct {
	knowledge  ports.KnowledgeRepository
	items      ports.ContentItemRepository
	ordering   *ordering.Service
	guard      *scoping.Guard
	uowFactory ports.UnitOfWorkFactory
	publisher  ports.EventPublisher
	metrics    ports.Metrics
	clock      ports.Clock
	policy     services.RetryPolicy
	logger     *zap.Logger
}

// NewService creates a new cascade service
func NewService(
	knowledge ports.KnowledgeRepository,
	items ports.ContentItemRepository,
	orderingService *ordering.Service,
	guard *scoping.Guard,
	uowFactory ports.UnitOfWorkFactory,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	clock ports.Clock,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *Service {
	if publisher == nil {
		publisher = ports.NoopPublisher{}
	}
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
		knowledge:  knowledge,
		items:      items,
		ordering:   orderingService,
		guard:      guard,
		uowFactory: uowFactory,
		publisher:  publisher,
		metrics:    metrics,
		clock:      clock,
		policy:     services.PolicyFrom(cfg),
		logger:     logger,
	}
}

// run is the state of one cascade.
type run struct {
	svc     *Service
	opts    Options
	report  *Report
	claimed map[entities.RecordRef]bool
}

func (s *Service) newRun(root entities.RecordRef, opts Options) *run {
	return &run{
		svc:     s,
		opts:    opts,
		report:  &Report{Root: root, Deleted: []entities.RecordRef{}, DryRun: opts.DryRun},
		claimed: make(map[entities.RecordRef]bool),
	}
}

// execute builds a plan with build and commits it, rebuilding it on a lost
// order-head race. On a dry run the plan is only recorded.
func (c *run) execute(ctx context.Context, root entities.RecordRef, build func(p *plan) error) error {
	s := c.svc
	var committed *plan
	err := services.WithOptimisticRetry(ctx, s.policy, s.logger, "cascade", func(int) error {
		p := c.newPlan(root)
		if err := build(p); err != nil {
			return err
		}
		if c.opts.DryRun || p.size() == 0 {
			committed = p
			return nil
		}
		if err := c.commit(ctx, p); err != nil {
			return err
		}
		committed = p
		return nil
	})
	if err != nil {
		return err
	}

	for ref := range committed.seen {
		c.claimed[ref] = true
	}
	c.report.Deleted = append(c.report.Deleted, committed.deleted()...)
	c.report.Updated = append(c.report.Updated, committed.updated()...)
	return nil
}

func (c *run) commit(ctx context.Context, p *plan) error {
	s := c.svc
	uow := s.uowFactory.Begin()
	batch := s.ordering.NewBatch(uow)

	for _, st := range p.steps {
		for _, r := range st.deletes {
			if item, ok := r.(*entities.ContentItem); ok {
				if err := batch.Remove(ctx, item); err != nil {
					return c.stepFailed(p, st.name, err)
				}
				continue
			}
			uow.Delete(r)
		}
		for _, r := range st.updates {
			uow.Replace(r)
		}
		if err := batch.AppendAll(ctx, st.moves, st.moveTo); err != nil {
			return c.stepFailed(p, st.name, err)
		}
		if len(st.deletes)+len(st.updates)+len(st.moves) > 0 {
			s.logger.Debug("Cascade step staged",
				zap.String("entity", string(p.root.Kind)),
				zap.String("id", p.root.ID),
				zap.String("step", st.name),
				zap.Int("deletes", len(st.deletes)),
				zap.Int("updates", len(st.updates)+len(st.moves)),
			)
		}
	}

	if err := uow.Commit(ctx); err != nil {
		return c.stepFailed(p, "commit", err)
	}
	return nil
}

func (c *run) stepFailed(p *plan, stepName string, err error) error {
	if pkgerrors.IsVersionConflict(err) {
		return err
	}
	c.svc.logger.Error("Cascade step failed",
		zap.String("entity", string(p.root.Kind)),
		zap.String("id", p.root.ID),
		zap.String("step", stepName),
		zap.Int("alreadyDeleted", len(c.report.Deleted)),
		zap.Error(err),
	)
	return err
}

// finish records metrics and publishes the completion event.
func (c *run) finish(ctx context.Context, p valueobjects.Principal) *Report {
	s := c.svc
	root := c.report.Root
	s.metrics.CascadeDeleted(string(root.Kind), len(c.report.Deleted), c.opts.DryRun)
	if c.opts.DryRun {
		return c.report
	}

	s.logger.Info("Cascade delete complete",
		zap.String("entity", string(root.Kind)),
		zap.String("id", root.ID),
		zap.Int("deleted", len(c.report.Deleted)),
	)
	evt := events.NewContainerDeleted(string(root.Kind), root.ID, p.OwnerKey(), len(c.report.Deleted), s.clock.Now())
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("Failed to publish cascade event", zap.Error(err))
	}
	return c.report
}

// DeleteChunk deletes a chunk and everything that refers to it.
func (s *Service) DeleteChunk(ctx context.Context, p valueobjects.Principal, id string, opts Options) (*Report, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	chunk, err := s.guard.Chunk(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanModifyInNotebook(ctx, p, chunk, chunk.NotebookID); err != nil {
		return nil, err
	}

	c := s.newRun(entities.RefOf(chunk), opts)
	if err := c.chunk(ctx, chunk); err != nil {
		return nil, err
	}
	return c.finish(ctx, p), nil
}

func (c *run) chunk(ctx context.Context, chunk *entities.Chunk) error {
	ref := entities.RefOf(chunk)
	if c.claimed[ref] {
		return nil
	}
	return c.execute(ctx, ref, func(p *plan) error {
		fresh, err := c.svc.knowledge.GetChunk(ctx, chunk.ID)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		return c.planChunk(ctx, p, fresh)
	})
}

// DeleteNotebook deletes every chunk of a notebook through the chunk
// cascade, then its tags, then its conversations with their messages, then
// the notebook and any placements still in it.
func (s *Service) DeleteNotebook(ctx context.Context, p valueobjects.Principal, id string, opts Options) (*Report, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	notebook, _, err := s.guard.Notebook(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanModifyInNexus(ctx, p, notebook, notebook.NexusID); err != nil {
		return nil, err
	}

	c := s.newRun(entities.RefOf(notebook), opts)
	if err := c.notebook(ctx, notebook); err != nil {
		return nil, err
	}
	return c.finish(ctx, p), nil
}

func (c *run) notebook(ctx context.Context, notebook *entities.Notebook) error {
	s := c.svc
	root := entities.RefOf(notebook)

	chunks, err := s.knowledge.ListChunksByNotebook(ctx, notebook.ID)
	if err != nil {
		return c.readFailed(root, "chunks", err)
	}
	for _, chunk := range chunks {
		if err := c.chunk(ctx, chunk); err != nil {
			return err
		}
	}

	if err := c.execute(ctx, root, func(p *plan) error {
		tags, err := s.knowledge.ListTagsByNotebook(ctx, notebook.ID)
		if err != nil {
			return c.readFailed(root, "tags", err)
		}
		return c.planTags(ctx, p, tags)
	}); err != nil {
		return err
	}

	conversations, err := s.knowledge.ListConversationsByNotebook(ctx, notebook.ID)
	if err != nil {
		return c.readFailed(root, "conversations", err)
	}
	for _, conv := range conversations {
		if err := c.execute(ctx, entities.RefOf(conv), func(p *plan) error {
			return c.planConversation(ctx, p, conv)
		}); err != nil {
			return err
		}
	}

	return c.execute(ctx, root, func(p *plan) error {
		placed, err := s.items.ListContentItemsByContent(ctx, valueobjects.ContentNotebook, notebook.ID)
		if err != nil {
			return c.readFailed(root, "placements", err)
		}
		leftovers, err := s.items.ListContentItemsByLocus(ctx, notebook.ID)
		if err != nil {
			return c.readFailed(root, "placements", err)
		}
		st := p.step("content_items")
		p.delete(st, records(placed)...)
		p.delete(st, records(leftovers)...)
		p.delete(p.step("notebook"), notebook)
		return nil
	})
}

// DeleteNexus deletes every notebook of a nexus through the notebook
// cascade, then the nexus.
func (s *Service) DeleteNexus(ctx context.Context, p valueobjects.Principal, id string, opts Options) (*Report, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	nexus, _, err := s.guard.Nexus(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if nexus.OwnerID != p.OwnerKey() {
		return nil, pkgerrors.NewForbiddenError("only the owner can delete a nexus")
	}

	c := s.newRun(entities.RefOf(nexus), opts)
	root := entities.RefOf(nexus)

	notebooks, err := s.knowledge.ListNotebooksByNexus(ctx, nexus.ID)
	if err != nil {
		return nil, c.readFailed(root, "notebooks", err)
	}
	for _, notebook := range notebooks {
		if err := c.notebook(ctx, notebook); err != nil {
			return nil, err
		}
	}

	if err := c.execute(ctx, root, func(pl *plan) error {
		leftovers, err := s.items.ListContentItemsByLocus(ctx, nexus.ID)
		if err != nil {
			return c.readFailed(root, "placements", err)
		}
		pl.delete(pl.step("content_items"), records(leftovers)...)
		pl.delete(pl.step("nexus"), nexus)
		return nil
	}); err != nil {
		return nil, err
	}
	return c.finish(ctx, p), nil
}

// DeleteTag deletes a tag's chunk links and placements and the tag itself.
// Direct child tags, and anything else placed under the tag, move up to the
// tag's parent and are appended there in their current order.
func (s *Service) DeleteTag(ctx context.Context, p valueobjects.Principal, id string, opts Options) (*Report, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	tag, err := s.guard.Tag(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanModifyInNotebook(ctx, p, tag, tag.NotebookID); err != nil {
		return nil, err
	}

	c := s.newRun(entities.RefOf(tag), opts)
	err = c.execute(ctx, entities.RefOf(tag), func(pl *plan) error {
		links, err := s.knowledge.ListChunkTagsByTag(ctx, tag.ID)
		if err != nil {
			return err
		}
		pl.delete(pl.step("chunk_tags"), records(links)...)

		children, err := s.knowledge.ListChildTags(ctx, tag.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		reparent := pl.step("reparent_children")
		for _, child := range children {
			child.ParentTagID = tag.ParentTagID
			child.UpdatedAt = now
			reparent.updates = append(reparent.updates, child)
		}

		nested, err := s.ordering.ListContentItems(ctx, tag.NotebookID, nil, tag.ID)
		if err != nil {
			return err
		}
		reparent.moves = nested
		reparent.moveTo = ordering.Destination{
			LocusID:   tag.NotebookID,
			LocusType: valueobjects.LocusNotebook,
			ParentID:  tag.ParentTagID,
		}

		items, err := s.items.ListContentItemsByContent(ctx, valueobjects.ContentTag, tag.ID)
		if err != nil {
			return err
		}
		pl.delete(pl.step("content_items"), records(items)...)
		pl.delete(pl.step("tag"), tag)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.finish(ctx, p), nil
}

// DeleteConversation deletes a conversation with its messages and their
// placements.
func (s *Service) DeleteConversation(ctx context.Context, p valueobjects.Principal, id string, opts Options) (*Report, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	conv, err := s.guard.Conversation(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CanModifyInNotebook(ctx, p, conv, conv.NotebookID); err != nil {
		return nil, err
	}

	c := s.newRun(entities.RefOf(conv), opts)
	if err := c.execute(ctx, entities.RefOf(conv), func(pl *plan) error {
		return c.planConversation(ctx, pl, conv)
	}); err != nil {
		return nil, err
	}
	return c.finish(ctx, p), nil
}

// DeleteChunkConnection deletes a connection together with its shadow chunk
// and the shadow's placement.
func (s *Service) DeleteChunkConnection(ctx context.Context, p valueobjects.Principal, id string, opts Options) (*Report, error) {
	if err := p.RequireAny(); err != nil {
		return nil, err
	}
	conn, err := s.guard.ChunkConnection(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if conn.OwnerID != "" && conn.OwnerID != p.OwnerKey() {
		return nil, pkgerrors.NewForbiddenError("only the owner can delete a chunk connection")
	}

	c := s.newRun(entities.RefOf(conn), opts)
	if err := c.execute(ctx, entities.RefOf(conn), func(pl *plan) error {
		return c.planConnection(ctx, pl, conn)
	}); err != nil {
		return nil, err
	}
	return c.finish(ctx, p), nil
}

func (c *run) readFailed(root entities.RecordRef, stepName string, err error) error {
	c.svc.logger.Error("Cascade step failed",
		zap.String("entity", string(root.Kind)),
		zap.String("id", root.ID),
		zap.String("step", stepName),
		zap.Int("alreadyDeleted", len(c.report.Deleted)),
		zap.Error(err),
	)
	return err
}
