package ordering

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loci/application/ports"
	"loci/domain/config"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	"loci/infrastructure/persistence/memory"
	pkgerrors "loci/pkg/errors"
)

var (
	baseTime = time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	alice    = valueobjects.UserPrincipal("alice")
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(nil)
	cfg := config.DefaultDomainConfig()
	cfg.RetryBaseDelay = time.Millisecond
	clock := ports.ClockFunc(func() time.Time { return baseTime })
	return NewService(store, store, store, nil, clock, cfg, nil), store
}

func seedItem(store *memory.Store, id, locusID, contentID string, position int) *entities.ContentItem {
	item := &entities.ContentItem{
		ID:          id,
		LocusID:     locusID,
		LocusType:   valueobjects.LocusNotebook,
		ContentType: valueobjects.ContentChunk,
		ContentID:   contentID,
		Position:    position,
		OwnerID:     "alice",
		Timestamps:  entities.Timestamps{CreatedAt: baseTime, UpdatedAt: baseTime},
	}
	store.Seed(item)
	return item
}

func chunkRequest(locusID, contentID string) PlaceRequest {
	return PlaceRequest{
		LocusID:     locusID,
		LocusType:   valueobjects.LocusNotebook,
		ContentType: valueobjects.ContentChunk,
		ContentID:   contentID,
	}
}

func contentIDs(items []*entities.ContentItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ContentID
	}
	return ids
}

func positions(items []*entities.ContentItem) []int {
	out := make([]int, len(items))
	for i, item := range items {
		out[i] = item.Position
	}
	return out
}

func TestNextPosition(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	next, err := svc.NextPosition(ctx, "nb1", "")
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	seedItem(store, "i1", "nb1", "c1", 0)
	seedItem(store, "i2", "nb1", "c2", 4)
	next, err = svc.NextPosition(ctx, "nb1", "")
	require.NoError(t, err)
	assert.Equal(t, 5, next)

	// Another parent within the same locus is a separate list.
	next, err = svc.NextPosition(ctx, "nb1", "conv1")
	require.NoError(t, err)
	assert.Equal(t, 0, next)
}

func TestAppendContentItem(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	for i := 0; i < 3; i++ {
		seedItem(store, fmt.Sprintf("i%d", i), "nb1", fmt.Sprintf("c%d", i), i)
	}

	item, err := svc.AppendContentItem(ctx, alice, chunkRequest("nb1", "new"))
	require.NoError(t, err)
	assert.Equal(t, 3, item.Position)
	assert.Equal(t, "alice", item.OwnerID)
	assert.Equal(t, baseTime, item.CreatedAt)

	items, err := svc.ListContentItems(ctx, "nb1", nil, "")
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, "new", items[3].ContentID)
	assert.Equal(t, []int{0, 1, 2, 3}, positions(items))
}

func TestAppendContentItemRequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.AppendContentItem(context.Background(), valueobjects.Principal{}, chunkRequest("nb1", "c1"))
	assert.True(t, pkgerrors.IsUnauthenticated(err))
}

func TestAppendContentItemValidates(t *testing.T) {
	svc, _ := newTestService(t)
	tests := []struct {
		name string
		req  PlaceRequest
	}{
		{"missing locus", PlaceRequest{LocusType: valueobjects.LocusNotebook, ContentType: valueobjects.ContentChunk, ContentID: "c"}},
		{"bad locus type", PlaceRequest{LocusID: "n", LocusType: "shelf", ContentType: valueobjects.ContentChunk, ContentID: "c"}},
		{"bad content type", PlaceRequest{LocusID: "n", LocusType: valueobjects.LocusNotebook, ContentType: "video", ContentID: "c"}},
		{"missing content id", PlaceRequest{LocusID: "n", LocusType: valueobjects.LocusNotebook, ContentType: valueobjects.ContentChunk}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AppendContentItem(context.Background(), alice, tt.req)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}

func TestInsertContentItemAtTop(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedItem(store, "i0", "nb1", "a", 0)
	seedItem(store, "i1", "nb1", "b", 1)
	seedItem(store, "i2", "nb1", "c", 2)

	item, err := svc.InsertContentItemAtTop(ctx, alice, chunkRequest("nb1", "top"))
	require.NoError(t, err)
	assert.Equal(t, 0, item.Position)

	items, err := svc.ListContentItems(ctx, "nb1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"top", "a", "b", "c"}, contentIDs(items))
	assert.Equal(t, []int{0, 1, 2, 3}, positions(items))
}

func TestInsertContentItemAtTopOnEmptyList(t *testing.T) {
	svc, _ := newTestService(t)
	item, err := svc.InsertContentItemAtTop(context.Background(), alice, chunkRequest("nb1", "only"))
	require.NoError(t, err)
	assert.Equal(t, 0, item.Position)
}

func TestReorderContentItems(t *testing.T) {
	ctx := context.Background()

	t.Run("full permutation", func(t *testing.T) {
		svc, store := newTestService(t)
		seedItem(store, "i1", "nb1", "C1", 0)
		seedItem(store, "i2", "nb1", "C2", 1)
		seedItem(store, "i3", "nb1", "C3", 2)

		require.NoError(t, svc.ReorderContentItems(ctx, "nb1", valueobjects.ContentChunk, []string{"C3", "C1", "C2"}, ""))

		items, err := svc.ListContentItems(ctx, "nb1", nil, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"C3", "C1", "C2"}, contentIDs(items))
	})

	t.Run("subset leaves others untouched", func(t *testing.T) {
		svc, store := newTestService(t)
		seedItem(store, "i1", "nb1", "C1", 0)
		seedItem(store, "i2", "nb1", "C2", 1)
		seedItem(store, "i3", "nb1", "C3", 5)

		require.NoError(t, svc.ReorderContentItems(ctx, "nb1", valueobjects.ContentChunk, []string{"C2", "C1", "ghost"}, ""))

		c3, err := store.GetContentItem(ctx, "i3")
		require.NoError(t, err)
		assert.Equal(t, 5, c3.Position)
		c2, _ := store.GetContentItem(ctx, "i2")
		assert.Equal(t, 0, c2.Position)
		assert.Equal(t, 3, store.Count(entities.KindContentItem), "unknown IDs must not create items")
	})

	t.Run("current order is a no-op", func(t *testing.T) {
		svc, store := newTestService(t)
		seedItem(store, "i1", "nb1", "C1", 0)
		seedItem(store, "i2", "nb1", "C2", 1)

		require.NoError(t, svc.ReorderContentItems(ctx, "nb1", valueobjects.ContentChunk, []string{"C1", "C2"}, ""))

		version, err := store.GetOrderVersion(ctx, valueobjects.OrderKey{LocusID: "nb1"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), version)
	})

	t.Run("other content types are ignored", func(t *testing.T) {
		svc, store := newTestService(t)
		seedItem(store, "i1", "nb1", "C1", 0)
		tagItem := seedItem(store, "i2", "nb1", "T1", 1)
		tagItem.ContentType = valueobjects.ContentTag
		store.Seed(tagItem)

		require.NoError(t, svc.ReorderContentItems(ctx, "nb1", valueobjects.ContentChunk, []string{"T1", "C1"}, ""))

		tag, _ := store.GetContentItem(ctx, "i2")
		assert.Equal(t, 1, tag.Position)
	})
}

func TestMoveContentItem(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.MoveContentItem(ctx, MoveRequest{
			ItemID:      "missing",
			Destination: Destination{LocusID: "nb2", LocusType: valueobjects.LocusNotebook},
		})
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("appends at destination by default", func(t *testing.T) {
		svc, store := newTestService(t)
		seedItem(store, "i1", "nb1", "C1", 0)
		seedItem(store, "i2", "nb2", "C2", 0)
		seedItem(store, "i3", "nb2", "C3", 1)

		moved, err := svc.MoveContentItem(ctx, MoveRequest{
			ItemID:      "i1",
			Destination: Destination{LocusID: "nb2", LocusType: valueobjects.LocusNotebook},
		})
		require.NoError(t, err)
		assert.Equal(t, "nb2", moved.LocusID)
		assert.Equal(t, 2, moved.Position)

		left, _ := svc.ListContentItems(ctx, "nb1", nil, "")
		assert.Empty(t, left)

		for _, key := range []valueobjects.OrderKey{{LocusID: "nb1"}, {LocusID: "nb2"}} {
			version, _ := store.GetOrderVersion(ctx, key)
			assert.Equal(t, int64(1), version, key.String())
		}
	})

	t.Run("explicit position", func(t *testing.T) {
		svc, store := newTestService(t)
		seedItem(store, "i1", "nb1", "C1", 0)
		position := 7

		moved, err := svc.MoveContentItem(ctx, MoveRequest{
			ItemID:      "i1",
			Destination: Destination{LocusID: "nb1", LocusType: valueobjects.LocusNotebook, ParentID: "tag1"},
			NewPosition: &position,
		})
		require.NoError(t, err)
		assert.Equal(t, 7, moved.Position)
		assert.Equal(t, "tag1", moved.ParentID)
	})

	t.Run("negative position", func(t *testing.T) {
		svc, store := newTestService(t)
		seedItem(store, "i1", "nb1", "C1", 0)
		position := -1

		_, err := svc.MoveContentItem(ctx, MoveRequest{
			ItemID:      "i1",
			Destination: Destination{LocusID: "nb1", LocusType: valueobjects.LocusNotebook},
			NewPosition: &position,
		})
		assert.True(t, pkgerrors.IsValidation(err))
	})
}

// deletingItems deletes an item the first time an order head is read,
// landing a concurrent delete between a mover's item read and its list reads.
type deletingItems struct {
	*memory.Store
	once   sync.Once
	victim *entities.ContentItem
}

func (d *deletingItems) GetOrderVersion(ctx context.Context, key valueobjects.OrderKey) (int64, error) {
	var err error
	d.once.Do(func() {
		uow := d.Store.Begin()
		uow.Delete(d.victim)
		uow.AdvanceOrder(d.victim.OrderKey(), 0)
		err = uow.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}
	return d.Store.GetOrderVersion(ctx, key)
}

func TestMoveDoesNotResurrectConcurrentlyDeletedItem(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	cfg := config.DefaultDomainConfig()
	cfg.RetryBaseDelay = time.Millisecond
	victim := seedItem(store, "i1", "nb1", "C1", 0)
	seedItem(store, "i2", "nb2", "C2", 0)
	items := &deletingItems{Store: store, victim: victim}
	svc := NewService(items, store, store, nil, ports.ClockFunc(func() time.Time { return baseTime }), cfg, nil)

	_, err := svc.MoveContentItem(ctx, MoveRequest{
		ItemID:      "i1",
		Destination: Destination{LocusID: "nb2", LocusType: valueobjects.LocusNotebook},
	})
	assert.True(t, pkgerrors.IsNotFound(err), err)

	_, err = store.GetContentItem(ctx, "i1")
	assert.True(t, pkgerrors.IsNotFound(err))
	list, err := svc.ListContentItems(ctx, "nb2", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"C2"}, contentIDs(list))
}

func TestMoveContentItemTo(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedItem(store, "i1", "nb1", "C1", 0)
	seedItem(store, "i2", "nb1", "C2", 1)
	seedItem(store, "i3", "nb1", "C3", 2)
	dst := Destination{LocusID: "nb1", LocusType: valueobjects.LocusNotebook}

	_, err := svc.MoveContentItemTo(ctx, "i3", dst, valueobjects.PlacementTop)
	require.NoError(t, err)
	items, _ := svc.ListContentItems(ctx, "nb1", nil, "")
	assert.Equal(t, []string{"C3", "C1", "C2"}, contentIDs(items))
	assert.Equal(t, []int{0, 1, 2}, positions(items))

	_, err = svc.MoveContentItemTo(ctx, "i3", dst, valueobjects.PlacementBottom)
	require.NoError(t, err)
	items, _ = svc.ListContentItems(ctx, "nb1", nil, "")
	assert.Equal(t, []string{"C1", "C2", "C3"}, contentIDs(items))
}

func TestListContentItems(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	late := seedItem(store, "b", "nb1", "C-late", 1)
	late.CreatedAt = baseTime.Add(time.Minute)
	store.Seed(late)
	seedItem(store, "a", "nb1", "C-early", 1)
	seedItem(store, "c", "nb1", "C-first", 0)
	tag := seedItem(store, "d", "nb1", "T1", 2)
	tag.ContentType = valueobjects.ContentTag
	store.Seed(tag)

	items, err := svc.ListContentItems(ctx, "nb1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"C-first", "C-early", "C-late", "T1"}, contentIDs(items))

	tagType := valueobjects.ContentTag
	items, err = svc.ListContentItems(ctx, "nb1", &tagType, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, contentIDs(items))

	_, err = svc.ListContentItems(ctx, "", nil, "")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestEnrichContentItemsDropsDangling(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	store.Seed(
		&entities.Chunk{ID: "c1", NotebookID: "nb1", Text: "hello"},
		&entities.Tag{ID: "t1", NotebookID: "nb1", Name: "ideas"},
		&entities.Notebook{ID: "nb2", NexusID: "x1", Name: "child"},
		&entities.ConversationMessage{ID: "m1", ConversationID: "conv1", Text: "hi"},
	)
	seedItem(store, "i1", "nb1", "c1", 0)
	seedItem(store, "i2", "nb1", "gone", 1)
	tagItem := seedItem(store, "i3", "nb1", "t1", 2)
	tagItem.ContentType = valueobjects.ContentTag
	nbItem := seedItem(store, "i4", "nb1", "nb2", 3)
	nbItem.ContentType = valueobjects.ContentNotebook
	msgItem := seedItem(store, "i5", "nb1", "m1", 4)
	msgItem.ContentType = valueobjects.ContentConversationMessage
	store.Seed(tagItem, nbItem, msgItem)

	enriched, err := svc.GetLocusContentItems(ctx, "nb1", nil, "")
	require.NoError(t, err)
	require.Len(t, enriched, 4)

	names := make([]string, len(enriched))
	for i, e := range enriched {
		names[i] = Match(e.Content, Cases[string]{
			Chunk:    func(c ChunkContent) string { return "chunk:" + c.Chunk.Text },
			Notebook: func(n NotebookContent) string { return "notebook:" + n.Notebook.Name },
			Tag:      func(t TagContent) string { return "tag:" + t.Tag.Name },
			Message:  func(m MessageContent) string { return "message:" + m.Message.Text },
		})
		assert.Equal(t, e.Item.ContentType, e.Content.ContentType())
	}
	assert.Equal(t, []string{"chunk:hello", "tag:ideas", "notebook:child", "message:hi"}, names)
}

func TestEnrichContentItemsPropagatesStoreErrors(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedItem(store, "i1", "nb1", "c1", 0)
	store.SetError("GetChunk", pkgerrors.NewDatabaseError("get", fmt.Errorf("timeout")))

	_, err := svc.GetLocusContentItems(ctx, "nb1", nil, "")
	assert.Error(t, err)
}

func TestMutationRetriesVersionConflict(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	store.FailCommitAt(1, pkgerrors.NewVersionConflictError("order", "nb1"))

	item, err := svc.AppendContentItem(ctx, alice, chunkRequest("nb1", "c1"))
	require.NoError(t, err)
	assert.Equal(t, 0, item.Position)
	assert.Equal(t, 1, store.Count(entities.KindContentItem))
}

func TestMutationDoesNotRetryOtherErrors(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	store.FailCommitAt(1, pkgerrors.NewDatabaseError("commit", fmt.Errorf("throttled")))

	_, err := svc.AppendContentItem(ctx, alice, chunkRequest("nb1", "c1"))
	require.Error(t, err)
	assert.Equal(t, 0, store.Count(entities.KindContentItem))
}

func TestConcurrentAppendsGetDistinctPositions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	cfg := config.DefaultDomainConfig()
	cfg.MaxWriteAttempts = 50
	cfg.RetryBaseDelay = time.Millisecond
	svc := NewService(store, store, store, nil, nil, cfg, nil)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AppendContentItem(ctx, alice, chunkRequest("nb1", fmt.Sprintf("c%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	items, err := svc.ListContentItems(ctx, "nb1", nil, "")
	require.NoError(t, err)
	require.Len(t, items, writers)
	for i, item := range items {
		assert.Equal(t, i, item.Position)
	}
}

func TestRemoveContentItemsFor(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedItem(store, "i1", "nb1", "c1", 0)
	seedItem(store, "i2", "nb2", "c1", 0)
	seedItem(store, "i3", "nb1", "c2", 1)

	uow := store.Begin()
	removed, err := svc.RemoveContentItemsFor(ctx, uow, valueobjects.ContentChunk, "c1")
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	require.NoError(t, uow.Commit(ctx))

	assert.Equal(t, 1, store.Count(entities.KindContentItem))
	version, _ := store.GetOrderVersion(ctx, valueobjects.OrderKey{LocusID: "nb2"})
	assert.Equal(t, int64(1), version)
}
