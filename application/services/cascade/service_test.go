package cascade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loci/application/ports"
	"loci/application/services/ordering"
	"loci/application/services/scoping"
	"loci/domain/config"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	"loci/domain/events"
	"loci/infrastructure/persistence/memory"
	pkgerrors "loci/pkg/errors"
)

var (
	now   = time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
	alice = valueobjects.UserPrincipal("alice")
	bob   = valueobjects.UserPrincipal("bob")
)

type capturePublisher struct{ events []events.DomainEvent }

func (p *capturePublisher) Publish(_ context.Context, evts ...events.DomainEvent) error {
	p.events = append(p.events, evts...)
	return nil
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	publisher *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore(nil)
	cfg := config.DefaultDomainConfig()
	cfg.RetryBaseDelay = time.Millisecond
	clock := ports.ClockFunc(func() time.Time { return now })
	orderingSvc := ordering.NewService(store, store, store, nil, clock, cfg, nil)
	guard := scoping.NewGuard(store, cfg.PublicManualNexusName)
	publisher := &capturePublisher{}
	svc := NewService(store, store, orderingSvc, guard, store, publisher, nil, clock, cfg, nil)
	f := &fixture{svc: svc, store: store, publisher: publisher}
	f.seedGraph()
	return f
}

func item(id, locusID string, locusType valueobjects.LocusType, contentType valueobjects.ContentType, contentID, parentID string, position int) *entities.ContentItem {
	return &entities.ContentItem{
		ID:          id,
		LocusID:     locusID,
		LocusType:   locusType,
		ContentType: contentType,
		ContentID:   contentID,
		ParentID:    parentID,
		Position:    position,
		OwnerID:     "alice",
		Timestamps:  entities.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
}

// seedGraph builds:
//
//	nexus x1
//	  notebook nb1: chunks c1, c2; tags t1 > t2; conversation v1 with m1, m2
//	  notebook nb2: chunk c3, shadow s1 of c1
func (f *fixture) seedGraph() {
	nb, nx := valueobjects.LocusNotebook, valueobjects.LocusNexus
	f.store.Seed(
		&entities.Nexus{ID: "x1", Name: "Research", OwnerID: "alice"},
		&entities.Notebook{ID: "nb1", NexusID: "x1", Name: "One", OwnerID: "alice"},
		&entities.Notebook{ID: "nb2", NexusID: "x1", Name: "Two", OwnerID: "alice"},
		item("i-nb1", "x1", nx, valueobjects.ContentNotebook, "nb1", "", 0),
		item("i-nb2", "x1", nx, valueobjects.ContentNotebook, "nb2", "", 1),

		&entities.Chunk{ID: "c1", NotebookID: "nb1", Text: "one", OwnerID: "alice"},
		&entities.Chunk{ID: "c2", NotebookID: "nb1", Text: "two", OwnerID: "alice"},
		&entities.Chunk{ID: "c3", NotebookID: "nb2", Text: "three", OwnerID: "alice"},
		&entities.Chunk{ID: "s1", NotebookID: "nb2", Text: "one", OwnerID: "alice", ShadowOf: "c1"},
		item("i-c1", "nb1", nb, valueobjects.ContentChunk, "c1", "", 0),
		item("i-c2", "nb1", nb, valueobjects.ContentChunk, "c2", "", 1),
		item("i-c3", "nb2", nb, valueobjects.ContentChunk, "c3", "", 0),
		item("i-s1", "nb2", nb, valueobjects.ContentChunk, "s1", "", 1),
		&entities.ChunkConnection{ID: "k1", SourceChunkID: "c1", TargetNotebookID: "nb2", ShadowChunkID: "s1", ShadowItemID: "i-s1", OwnerID: "alice"},

		&entities.Tag{ID: "t1", NotebookID: "nb1", Name: "topic", OwnerID: "alice"},
		&entities.Tag{ID: "t2", NotebookID: "nb1", Name: "subtopic", ParentTagID: "t1", OwnerID: "alice"},
		item("i-t1", "nb1", nb, valueobjects.ContentTag, "t1", "", 2),
		item("i-t2", "nb1", nb, valueobjects.ContentTag, "t2", "t1", 0),
		&entities.ChunkTag{ChunkID: "c1", TagID: "t1", OwnerID: "alice"},
		&entities.ChunkTag{ChunkID: "c3", TagID: "t1", OwnerID: "alice"},

		&entities.Conduit{ID: "d1", SourceChunkID: "c1", TargetChunkID: "c2", OwnerID: "alice"},
		&entities.Conduit{ID: "d2", SourceChunkID: "c3", TargetChunkID: "c1", OwnerID: "alice"},
		&entities.Jem{ID: "j1", ChunkID: "c1", OwnerID: "alice"},
		&entities.Attachment{ID: "a1", ChunkID: "c1", FileName: "paper.pdf", OwnerID: "alice"},

		&entities.Conversation{ID: "v1", NotebookID: "nb1", Title: "chat", OwnerID: "alice"},
		&entities.ConversationMessage{ID: "m1", ConversationID: "v1", Role: entities.RoleUser, Text: "q", OwnerID: "alice"},
		&entities.ConversationMessage{ID: "m2", ConversationID: "v1", Role: entities.RoleAssistant, Text: "a", OwnerID: "alice"},
		item("i-m1", "nb1", nb, valueobjects.ContentConversationMessage, "m1", "v1", 0),
		item("i-m2", "nb1", nb, valueobjects.ContentConversationMessage, "m2", "v1", 1),
	)
}

func (f *fixture) exists(t *testing.T, kind entities.Kind, id string) bool {
	t.Helper()
	ctx := context.Background()
	var err error
	switch kind {
	case entities.KindChunk:
		_, err = f.store.GetChunk(ctx, id)
	case entities.KindNotebook:
		_, err = f.store.GetNotebook(ctx, id)
	case entities.KindNexus:
		_, err = f.store.GetNexus(ctx, id)
	case entities.KindTag:
		_, err = f.store.GetTag(ctx, id)
	case entities.KindContentItem:
		_, err = f.store.GetContentItem(ctx, id)
	case entities.KindChunkConnection:
		_, err = f.store.GetChunkConnection(ctx, id)
	case entities.KindConversation:
		_, err = f.store.GetConversation(ctx, id)
	case entities.KindConversationMessage:
		_, err = f.store.GetConversationMessage(ctx, id)
	default:
		t.Fatalf("unsupported kind %s", kind)
	}
	if err != nil {
		require.True(t, pkgerrors.IsNotFound(err), err)
		return false
	}
	return true
}

func refSet(refs []entities.RecordRef) map[string]bool {
	out := make(map[string]bool, len(refs))
	for _, r := range refs {
		out[r.String()] = true
	}
	return out
}

func TestDeleteChunk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.svc.DeleteChunk(ctx, alice, "c1", Options{})
	require.NoError(t, err)
	assert.False(t, report.DryRun)

	deleted := refSet(report.Deleted)
	for _, ref := range []string{
		"CHUNK_TAG#c1#t1", "CONDUIT#d1", "CONDUIT#d2", "JEM#j1", "ATTACHMENT#a1",
		"CHUNK#s1", "CONTENT_ITEM#i-s1", "CHUNK_CONNECTION#k1", "CONTENT_ITEM#i-c1", "CHUNK#c1",
	} {
		assert.True(t, deleted[ref], ref)
	}

	assert.False(t, f.exists(t, entities.KindChunk, "c1"))
	assert.False(t, f.exists(t, entities.KindChunk, "s1"))
	assert.False(t, f.exists(t, entities.KindChunkConnection, "k1"))
	assert.True(t, f.exists(t, entities.KindChunk, "c2"))
	assert.True(t, f.exists(t, entities.KindChunk, "c3"))
	assert.Equal(t, 0, f.store.Count(entities.KindConduit))
	assert.Equal(t, 0, f.store.Count(entities.KindJem))
	assert.Equal(t, 0, f.store.Count(entities.KindAttachment))
	assert.Equal(t, 1, f.store.Count(entities.KindChunkTag))

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, events.TypeContainerDeleted, f.publisher.events[0].EventType())
}

func TestDeleteChunkHidesForeignChunks(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DeleteChunk(context.Background(), bob, "c1", Options{})
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.True(t, f.exists(t, entities.KindChunk, "c1"))
}

func TestDeleteRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DeleteNotebook(context.Background(), valueobjects.Principal{}, "nb1", Options{})
	assert.True(t, pkgerrors.IsUnauthenticated(err))
}

func TestDeleteNotebookLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.DeleteNotebook(ctx, alice, "nb1", Options{})
	require.NoError(t, err)

	formerChunks := map[string]bool{"c1": true, "c2": true, "s1": true}
	items, err := f.store.ListAllContentItems(ctx)
	require.NoError(t, err)
	for _, it := range items {
		assert.NotEqual(t, "nb1", it.LocusID, it.ID)
		assert.False(t, it.ContentType == valueobjects.ContentNotebook && it.ContentID == "nb1", it.ID)
		assert.False(t, it.ContentType == valueobjects.ContentChunk && formerChunks[it.ContentID], it.ID)
	}
	chunks, _ := f.store.ListChunksByNotebook(ctx, "nb1")
	assert.Empty(t, chunks)
	tags, _ := f.store.ListTagsByNotebook(ctx, "nb1")
	assert.Empty(t, tags)
	assert.Equal(t, 0, f.store.Count(entities.KindChunkTag))
	assert.Equal(t, 0, f.store.Count(entities.KindConduit))
	assert.Equal(t, 0, f.store.Count(entities.KindJem))
	assert.Equal(t, 0, f.store.Count(entities.KindConversationMessage))
	assert.False(t, f.exists(t, entities.KindConversation, "v1"))
	assert.False(t, f.exists(t, entities.KindNotebook, "nb1"))

	assert.True(t, f.exists(t, entities.KindNotebook, "nb2"))
	assert.True(t, f.exists(t, entities.KindChunk, "c3"))
	assert.True(t, f.exists(t, entities.KindContentItem, "i-c3"))
}

func TestDeleteNotebookDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := f.store.Count(entities.KindContentItem)

	report, err := f.svc.DeleteNotebook(ctx, alice, "nb1", Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)

	deleted := refSet(report.Deleted)
	assert.True(t, deleted["NOTEBOOK#nb1"])
	assert.True(t, deleted["CHUNK#c1"])
	assert.True(t, deleted["CONVERSATION_MESSAGE#m2"])
	assert.Len(t, deleted, len(report.Deleted), "each record is reported once")

	assert.Equal(t, before, f.store.Count(entities.KindContentItem))
	assert.True(t, f.exists(t, entities.KindNotebook, "nb1"))
	assert.Empty(t, f.publisher.events)
}

func TestDeleteNotebookPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.FailCommitAt(2, pkgerrors.NewDatabaseError("commit", errors.New("throttled")))

	_, err := f.svc.DeleteNotebook(ctx, alice, "nb1", Options{})
	require.Error(t, err)

	// The first chunk's unit committed; the rest of the graph is untouched.
	assert.False(t, f.exists(t, entities.KindChunk, "c1"))
	assert.True(t, f.exists(t, entities.KindChunk, "c2"))
	assert.True(t, f.exists(t, entities.KindNotebook, "nb1"))
	assert.True(t, f.exists(t, entities.KindTag, "t1"))

	// Running the cascade again picks up from what is left.
	report, err := f.svc.DeleteNotebook(ctx, alice, "nb1", Options{})
	require.NoError(t, err)
	deleted := refSet(report.Deleted)
	assert.False(t, deleted["CHUNK#c1"])
	assert.True(t, deleted["CHUNK#c2"])
	assert.True(t, deleted["NOTEBOOK#nb1"])
	assert.False(t, f.exists(t, entities.KindNotebook, "nb1"))
	assert.Equal(t, 0, f.store.Count(entities.KindTag))
	assert.Equal(t, 0, f.store.Count(entities.KindConversationMessage))
}

func TestDeleteNexus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.DeleteNexus(ctx, bob, "x1", Options{})
	assert.True(t, pkgerrors.IsNotFound(err))

	report, err := f.svc.DeleteNexus(ctx, alice, "x1", Options{})
	require.NoError(t, err)
	assert.True(t, refSet(report.Deleted)["NEXUS#x1"])

	for _, kind := range []entities.Kind{
		entities.KindNexus, entities.KindNotebook, entities.KindChunk, entities.KindTag,
		entities.KindChunkTag, entities.KindConduit, entities.KindJem, entities.KindAttachment,
		entities.KindChunkConnection, entities.KindConversation, entities.KindConversationMessage,
		entities.KindContentItem,
	} {
		assert.Equal(t, 0, f.store.Count(kind), kind)
	}
}

func TestGuestSessionCannotActAsUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	impostor := valueobjects.GuestPrincipal("alice")

	_, err := f.svc.DeleteNexus(ctx, impostor, "x1", Options{})
	assert.True(t, pkgerrors.IsNotFound(err))
	_, err = f.svc.DeleteChunk(ctx, impostor, "c1", Options{})
	assert.True(t, pkgerrors.IsNotFound(err))

	assert.True(t, f.exists(t, entities.KindNexus, "x1"))
	assert.True(t, f.exists(t, entities.KindChunk, "c1"))
}

func TestDeleteTagReparentsChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.svc.DeleteTag(ctx, alice, "t1", Options{})
	require.NoError(t, err)
	assert.True(t, refSet(report.Updated)["TAG#t2"])

	assert.False(t, f.exists(t, entities.KindTag, "t1"))
	assert.False(t, f.exists(t, entities.KindContentItem, "i-t1"))
	assert.Equal(t, 0, f.store.Count(entities.KindChunkTag))

	child, err := f.store.GetTag(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, child.ParentTagID)

	childItem, err := f.store.GetContentItem(ctx, "i-t2")
	require.NoError(t, err)
	assert.Empty(t, childItem.ParentID)
	assert.Equal(t, 3, childItem.Position, "appended after the root list's last sibling")
}

func TestDeleteTagDryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.svc.DeleteTag(ctx, alice, "t1", Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, refSet(report.Deleted)["TAG#t1"])

	child, _ := f.store.GetTag(ctx, "t2")
	assert.Equal(t, "t1", child.ParentTagID)
}

func TestDeleteConversationDeletesMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.DeleteConversation(ctx, alice, "v1", Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, f.store.Count(entities.KindConversationMessage))
	assert.False(t, f.exists(t, entities.KindContentItem, "i-m1"))
	assert.False(t, f.exists(t, entities.KindConversation, "v1"))
}

func TestDeleteChunkConnection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.svc.DeleteChunkConnection(ctx, alice, "k1", Options{})
	require.NoError(t, err)
	deleted := refSet(report.Deleted)
	assert.True(t, deleted["CHUNK#s1"])
	assert.True(t, deleted["CONTENT_ITEM#i-s1"])
	assert.True(t, deleted["CHUNK_CONNECTION#k1"])

	assert.True(t, f.exists(t, entities.KindChunk, "c1"))
	assert.False(t, f.exists(t, entities.KindChunk, "s1"))

	_, err = f.svc.DeleteChunkConnection(ctx, alice, "k1", Options{})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestRepairOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	nb := valueobjects.LocusNotebook
	f.store.Seed(
		item("i-ghost", "nb1", nb, valueobjects.ContentChunk, "ghost", "", 9),
		item("i-lost-locus", "gone-notebook", nb, valueobjects.ContentChunk, "c2", "", 0),
		&entities.ChunkTag{ChunkID: "c2", TagID: "gone-tag"},
		&entities.ConversationMessage{ID: "m-orphan", ConversationID: "gone-conv", Text: "?"},
	)

	dry, err := f.svc.RepairOrphans(ctx, Options{DryRun: true})
	require.NoError(t, err)
	found := refSet(dry.Deleted)
	assert.Len(t, found, 4)
	assert.True(t, found["CONTENT_ITEM#i-ghost"])
	assert.True(t, found["CONTENT_ITEM#i-lost-locus"])
	assert.True(t, found["CHUNK_TAG#c2#gone-tag"])
	assert.True(t, found["CONVERSATION_MESSAGE#m-orphan"])
	assert.True(t, f.exists(t, entities.KindContentItem, "i-ghost"))
	assert.Greater(t, dry.ScannedItems, 0)

	fixed, err := f.svc.RepairOrphans(ctx, Options{})
	require.NoError(t, err)
	assert.Len(t, fixed.Deleted, 4)
	assert.False(t, f.exists(t, entities.KindContentItem, "i-ghost"))
	assert.False(t, f.exists(t, entities.KindConversationMessage, "m-orphan"))

	again, err := f.svc.RepairOrphans(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, again.Deleted)
}
