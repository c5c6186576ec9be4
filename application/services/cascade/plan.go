package cascade

import (
	"context"

	"go.uber.org/zap"

	"loci/application/services/ordering"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// step is one named stage of a deletion. Within a step, deletes are staged
// before updates, and updates before moves.
type step struct {
	name    string
	deletes []entities.Record
	updates []entities.Record
	moves   []*entities.ContentItem
	moveTo  ordering.Destination
}

// plan is an ordered list of steps committed as one unit of work. Records
// claimed by an earlier plan of the same cascade are skipped.
type plan struct {
	root    entities.RecordRef
	steps   []*step
	seen    map[entities.RecordRef]bool
	claimed map[entities.RecordRef]bool

	// visiting holds chunks whose cascade is being planned.
	visiting map[string]bool
}

func (c *run) newPlan(root entities.RecordRef) *plan {
	return &plan{
		root:     root,
		seen:     make(map[entities.RecordRef]bool),
		claimed:  c.claimed,
		visiting: make(map[string]bool),
	}
}

func (p *plan) has(r entities.Record) bool {
	ref := entities.RefOf(r)
	return p.seen[ref] || p.claimed[ref]
}

func (p *plan) step(name string) *step {
	s := &step{name: name}
	p.steps = append(p.steps, s)
	return s
}

// delete adds records not already claimed by this cascade.
func (p *plan) delete(s *step, records ...entities.Record) {
	for _, r := range records {
		if p.has(r) {
			continue
		}
		p.seen[entities.RefOf(r)] = true
		s.deletes = append(s.deletes, r)
	}
}

func (p *plan) size() int {
	n := 0
	for _, s := range p.steps {
		n += len(s.deletes) + len(s.updates) + len(s.moves)
	}
	return n
}

func (p *plan) deleted() []entities.RecordRef {
	var refs []entities.RecordRef
	for _, s := range p.steps {
		for _, r := range s.deletes {
			refs = append(refs, entities.RefOf(r))
		}
	}
	return refs
}

func (p *plan) updated() []entities.RecordRef {
	var refs []entities.RecordRef
	for _, s := range p.steps {
		for _, r := range s.updates {
			refs = append(refs, entities.RefOf(r))
		}
		for _, item := range s.moves {
			refs = append(refs, entities.RefOf(item))
		}
	}
	return refs
}

// planChunk adds a chunk's cascade to p: chunk-tag links, conduits in both
// directions, jems, attachments, the shadows it feeds and their
// connections, the connection that feeds it if it is a shadow, its content
// items, and finally the chunk.
func (c *run) planChunk(ctx context.Context, p *plan, chunk *entities.Chunk) error {
	s := c.svc
	if p.visiting[chunk.ID] || p.has(chunk) {
		return nil
	}
	p.visiting[chunk.ID] = true
	defer delete(p.visiting, chunk.ID)

	fail := func(stepName string, err error) error {
		s.logger.Error("Cascade step failed",
			zap.String("entity", string(entities.KindChunk)),
			zap.String("id", chunk.ID),
			zap.String("step", stepName),
			zap.Error(err),
		)
		return err
	}

	links, err := s.knowledge.ListChunkTagsByChunk(ctx, chunk.ID)
	if err != nil {
		return fail("chunk_tags", err)
	}
	p.delete(p.step("chunk_tags"), records(links)...)

	outbound, err := s.knowledge.ListConduitsBySource(ctx, chunk.ID)
	if err != nil {
		return fail("conduits", err)
	}
	inbound, err := s.knowledge.ListConduitsByTarget(ctx, chunk.ID)
	if err != nil {
		return fail("conduits", err)
	}
	conduits := p.step("conduits")
	p.delete(conduits, records(outbound)...)
	p.delete(conduits, records(inbound)...)

	jems, err := s.knowledge.ListJemsByChunk(ctx, chunk.ID)
	if err != nil {
		return fail("jems", err)
	}
	p.delete(p.step("jems"), records(jems)...)

	attachments, err := s.knowledge.ListAttachmentsByChunk(ctx, chunk.ID)
	if err != nil {
		return fail("attachments", err)
	}
	p.delete(p.step("attachments"), records(attachments)...)

	connections, err := s.knowledge.ListConnectionsBySource(ctx, chunk.ID)
	if err != nil {
		return fail("connections", err)
	}
	for _, conn := range connections {
		if err := c.planConnection(ctx, p, conn); err != nil {
			return fail("connections", err)
		}
	}

	if chunk.IsShadow() {
		conn, err := s.knowledge.FindChunkConnection(ctx, chunk.ShadowOf, chunk.NotebookID)
		switch {
		case err == nil && conn.ShadowChunkID == chunk.ID:
			p.delete(p.step("inbound_connection"), conn)
		case err != nil && !pkgerrors.IsNotFound(err):
			return fail("inbound_connection", err)
		}
	}

	items, err := s.items.ListContentItemsByContent(ctx, valueobjects.ContentChunk, chunk.ID)
	if err != nil {
		return fail("content_items", err)
	}
	p.delete(p.step("content_items"), records(items)...)

	p.delete(p.step("chunk"), chunk)
	return nil
}

// planConnection adds a connection, its shadow chunk's cascade and the
// shadow's placement.
func (c *run) planConnection(ctx context.Context, p *plan, conn *entities.ChunkConnection) error {
	s := c.svc
	if p.has(conn) {
		return nil
	}

	shadow, err := s.knowledge.GetChunk(ctx, conn.ShadowChunkID)
	switch {
	case err == nil:
		if err := c.planChunk(ctx, p, shadow); err != nil {
			return err
		}
	case !pkgerrors.IsNotFound(err):
		return err
	}

	if conn.ShadowItemID != "" {
		item, err := s.items.GetContentItem(ctx, conn.ShadowItemID)
		switch {
		case err == nil:
			p.delete(p.step("shadow_item"), item)
		case !pkgerrors.IsNotFound(err):
			return err
		}
	}

	p.delete(p.step("connection"), conn)
	return nil
}

// planTags adds every tag of a notebook with its links and placements.
func (c *run) planTags(ctx context.Context, p *plan, tags []*entities.Tag) error {
	s := c.svc
	st := p.step("tags")
	for _, tag := range tags {
		links, err := s.knowledge.ListChunkTagsByTag(ctx, tag.ID)
		if err != nil {
			return err
		}
		items, err := s.items.ListContentItemsByContent(ctx, valueobjects.ContentTag, tag.ID)
		if err != nil {
			return err
		}
		p.delete(st, records(links)...)
		p.delete(st, records(items)...)
		p.delete(st, tag)
	}
	return nil
}

// planConversation adds a conversation with its messages and their
// placements.
func (c *run) planConversation(ctx context.Context, p *plan, conv *entities.Conversation) error {
	s := c.svc
	messages, err := s.knowledge.ListMessagesByConversation(ctx, conv.ID)
	if err != nil {
		return err
	}
	st := p.step("messages")
	for _, msg := range messages {
		items, err := s.items.ListContentItemsByContent(ctx, valueobjects.ContentConversationMessage, msg.ID)
		if err != nil {
			return err
		}
		p.delete(st, records(items)...)
		p.delete(st, msg)
	}
	p.delete(p.step("conversation"), conv)
	return nil
}

func records[T entities.Record](in []T) []entities.Record {
	out := make([]entities.Record, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}
