package cascade

import (
	"context"

	"go.uber.org/zap"

	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// RepairReport lists the orphans found by RepairOrphans.
type RepairReport struct {
	Report
	ScannedItems    int `json:"scannedItems"`
	ScannedLinks    int `json:"scannedLinks"`
	ScannedMessages int `json:"scannedMessages"`
}

// RepairOrphans finds records left behind by interrupted cascades: content
// items whose content or locus is gone, chunk-tag links whose chunk or tag
// is gone, and messages whose conversation is gone. They are deleted only
// when opts.DryRun is false.
func (s *Service) RepairOrphans(ctx context.Context, opts Options) (*RepairReport, error) {
	result := &RepairReport{}
	c := s.newRun(entities.RecordRef{Kind: "ORPHANS"}, opts)

	err := c.execute(ctx, c.report.Root, func(p *plan) error {
		result.ScannedItems, result.ScannedLinks, result.ScannedMessages = 0, 0, 0

		items, err := s.items.ListAllContentItems(ctx)
		if err != nil {
			return err
		}
		result.ScannedItems = len(items)
		st := p.step("content_items")
		for _, item := range items {
			orphan, err := s.itemOrphaned(ctx, item)
			if err != nil {
				return err
			}
			if orphan {
				p.delete(st, item)
			}
		}

		links, err := s.knowledge.ListAllChunkTags(ctx)
		if err != nil {
			return err
		}
		result.ScannedLinks = len(links)
		st = p.step("chunk_tags")
		for _, link := range links {
			chunkGone, err := missing(s.knowledge.GetChunk(ctx, link.ChunkID))
			if err != nil {
				return err
			}
			tagGone, err := missing(s.knowledge.GetTag(ctx, link.TagID))
			if err != nil {
				return err
			}
			if chunkGone || tagGone {
				p.delete(st, link)
			}
		}

		messages, err := s.knowledge.ListAllMessages(ctx)
		if err != nil {
			return err
		}
		result.ScannedMessages = len(messages)
		st = p.step("messages")
		for _, msg := range messages {
			gone, err := missing(s.knowledge.GetConversation(ctx, msg.ConversationID))
			if err != nil {
				return err
			}
			if !gone {
				continue
			}
			placed, err := s.items.ListContentItemsByContent(ctx, valueobjects.ContentConversationMessage, msg.ID)
			if err != nil {
				return err
			}
			p.delete(st, records(placed)...)
			p.delete(st, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CascadeDeleted("ORPHANS", len(c.report.Deleted), opts.DryRun)
	s.logger.Info("Orphan repair finished",
		zap.Bool("dryRun", opts.DryRun),
		zap.Int("orphans", len(c.report.Deleted)),
		zap.Int("scannedItems", result.ScannedItems),
	)
	result.Report = *c.report
	return result, nil
}

// itemOrphaned reports whether an item's content or locus no longer exists.
func (s *Service) itemOrphaned(ctx context.Context, item *entities.ContentItem) (bool, error) {
	if _, err := s.ordering.ResolveContent(ctx, item); err != nil {
		if pkgerrors.IsNotFound(err) || pkgerrors.IsValidation(err) {
			return true, nil
		}
		return false, err
	}
	switch item.LocusType {
	case valueobjects.LocusNotebook:
		return missing(s.knowledge.GetNotebook(ctx, item.LocusID))
	case valueobjects.LocusNexus:
		return missing(s.knowledge.GetNexus(ctx, item.LocusID))
	default:
		return true, nil
	}
}

// missing turns a lookup into "is it gone", passing through real failures.
func missing[T any](_ T, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if pkgerrors.IsNotFound(err) {
		return true, nil
	}
	return false, err
}
