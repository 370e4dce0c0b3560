package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat_sync/server/realtime/domain"
)

var (
	room = domain.Room{Kind: domain.RoomConversation, ID: "conv-1"}
	base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func msg(n int) domain.Message {
	at := base.Add(time.Duration(n) * time.Minute)
	return domain.Message{
		ID:        fmt.Sprintf("m%d", n),
		RoomKind:  room.Kind,
		RoomID:    room.ID,
		AuthorID:  "u1",
		Content:   fmt.Sprintf("hello %d", n),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func ids(items []domain.Message) []string {
	out := make([]string, 0, len(items))
	for _, m := range items {
		out = append(out, m.ID)
	}
	return out
}

func TestTimelineBackfillThenPushKeepsOrder(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyPage(domain.MessagePage{Items: []domain.Message{msg(6), msg(5), msg(4)}, NextCursor: "m4"})
	tl.ApplyPage(domain.MessagePage{Items: []domain.Message{msg(3), msg(2), msg(1)}})

	tl.ApplyCreated(msg(7))
	tl.ApplyCreated(msg(8))

	assert.Equal(t, []string{"m8", "m7", "m6", "m5", "m4", "m3", "m2", "m1"}, ids(tl.Messages()))
	cursor, more := tl.Cursor()
	assert.Empty(t, cursor)
	assert.False(t, more)
}

func TestTimelineCreatedTwiceIsHeldOnce(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyCreated(msg(1))
	tl.ApplyCreated(msg(1))
	assert.Equal(t, 1, tl.Len())
}

func TestTimelineUpdateReplacesInPlace(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyPage(domain.MessagePage{Items: []domain.Message{msg(3), msg(2), msg(1)}})

	edited := msg(2)
	edited.Content = "edited"
	edited.UpdatedAt = edited.UpdatedAt.Add(time.Second)
	require.True(t, tl.ApplyUpdated(edited))
	require.True(t, tl.ApplyUpdated(edited))

	got := tl.Messages()
	assert.Equal(t, []string{"m3", "m2", "m1"}, ids(got))
	assert.Equal(t, "edited", got[1].Content)
}

func TestTimelineUpdateOfUnknownIsNoop(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyCreated(msg(1))
	assert.False(t, tl.ApplyUpdated(msg(9)))
	assert.Equal(t, []string{"m1"}, ids(tl.Messages()))
}

func TestTimelineStaleUpdateIsIgnored(t *testing.T) {
	tl := NewTimeline(room)
	fresh := msg(1)
	fresh.Content = "v2"
	fresh.UpdatedAt = fresh.UpdatedAt.Add(time.Minute)
	tl.ApplyCreated(fresh)

	tl.ApplyUpdated(msg(1))

	got, ok := tl.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Content)
}

func TestTimelineDeleteTombstonesInPlace(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyPage(domain.MessagePage{Items: []domain.Message{msg(3), msg(2), msg(1)}})

	require.True(t, tl.ApplyDeleted("m2"))
	once := tl.Messages()
	tl.ApplyDeleted("m2")

	assert.Equal(t, once, tl.Messages())
	assert.Equal(t, []string{"m3", "m2", "m1"}, ids(once))
	assert.True(t, once[1].Deleted)
	assert.Equal(t, domain.DeletedMessageContent, once[1].Content)
}

func TestTimelineUpdateAfterDeleteKeepsTombstone(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyCreated(msg(1))
	tl.ApplyDeleted("m1")

	late := msg(1)
	late.Content = "edited"
	late.UpdatedAt = late.UpdatedAt.Add(time.Hour)
	tl.ApplyUpdated(late)

	got, _ := tl.Get("m1")
	assert.True(t, got.Deleted)
	assert.Equal(t, domain.DeletedMessageContent, got.Content)
}

func TestTimelineDeleteBeforeCreateCommutes(t *testing.T) {
	a := NewTimeline(room)
	a.ApplyCreated(msg(1))
	a.ApplyDeleted("m1")

	b := NewTimeline(room)
	assert.False(t, b.ApplyDeleted("m1"))
	b.ApplyCreated(msg(1))

	assert.Equal(t, a.Messages(), b.Messages())
}

func TestTimelineOptimisticReactionYieldsToServerCopy(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyCreated(msg(1))
	tag := domain.ReactionTag("🔥", "u1")

	shown, ok := tl.ToggleReaction("m1", tag)
	require.True(t, ok)
	assert.Equal(t, []string{tag}, shown.Reactions)
	assert.Equal(t, msg(1).UpdatedAt, shown.UpdatedAt)

	confirmed := msg(1)
	confirmed.Reactions = []string{domain.ReactionTag("👍", "u2"), tag}
	confirmed.UpdatedAt = confirmed.UpdatedAt.Add(time.Second)
	require.True(t, tl.ApplyUpdated(confirmed))
	got, _ := tl.Get("m1")
	assert.Equal(t, confirmed.Reactions, got.Reactions)

	_, ok = tl.ToggleReaction("m1", tag)
	require.True(t, ok)
	got, _ = tl.Get("m1")
	assert.Equal(t, []string{domain.ReactionTag("👍", "u2")}, got.Reactions)
}

func TestTimelineToggleReactionSkipsTombstonesAndUnknownIDs(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyCreated(msg(1))
	tl.ApplyDeleted("m1")

	_, ok := tl.ToggleReaction("m1", domain.ReactionTag("🔥", "u1"))
	assert.False(t, ok)
	_, ok = tl.ToggleReaction("m9", domain.ReactionTag("🔥", "u1"))
	assert.False(t, ok)
	got, _ := tl.Get("m1")
	assert.Empty(t, got.Reactions)
}

func TestTimelineReactionEventAppliedTwiceCountsOnce(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyCreated(msg(1))

	reacted := msg(1)
	reacted.Reactions = []string{domain.ReactionTag("👍", "u2")}
	reacted.UpdatedAt = reacted.UpdatedAt.Add(time.Second)
	tl.ApplyUpdated(reacted)
	tl.ApplyUpdated(reacted)

	groups := tl.Reactions("m1", "u2")
	require.Len(t, groups, 1)
	assert.Equal(t, "👍", groups[0].Emoji)
	assert.Equal(t, 1, groups[0].Count)
	assert.True(t, groups[0].Mine)
}

func TestTimelineIgnoresOtherRooms(t *testing.T) {
	tl := NewTimeline(room)
	other := msg(1)
	other.RoomID = "conv-2"
	tl.ApplyCreated(other)
	assert.Zero(t, tl.Len())
}

func TestTimelineMergeLatestAfterPush(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyPage(domain.MessagePage{Items: []domain.Message{msg(2), msg(1)}})
	tl.ApplyCreated(msg(4))

	tl.MergeLatest(domain.MessagePage{Items: []domain.Message{msg(5), msg(4), msg(3), msg(2)}, NextCursor: "m2"})

	assert.Equal(t, []string{"m5", "m4", "m3", "m2", "m1"}, ids(tl.Messages()))
	_, more := tl.Cursor()
	assert.False(t, more)
}

func TestTimelineMergeLatestOnEmptyCache(t *testing.T) {
	tl := NewTimeline(room)
	tl.MergeLatest(domain.MessagePage{Items: []domain.Message{msg(3), msg(2)}, NextCursor: "m2"})

	assert.Equal(t, []string{"m3", "m2"}, ids(tl.Messages()))
	cursor, more := tl.Cursor()
	assert.Equal(t, "m2", cursor)
	assert.True(t, more)

	tl.ApplyPage(domain.MessagePage{Items: []domain.Message{msg(1)}})
	assert.Equal(t, []string{"m3", "m2", "m1"}, ids(tl.Messages()))
}

func TestTimelinePushAndPollInEitherOrderConverge(t *testing.T) {
	page := domain.MessagePage{Items: []domain.Message{msg(3), msg(2), msg(1)}}

	pushFirst := NewTimeline(room)
	pushFirst.ApplyPage(domain.MessagePage{Items: []domain.Message{msg(2), msg(1)}})
	pushFirst.ApplyCreated(msg(3))
	pushFirst.MergeLatest(page)

	pollFirst := NewTimeline(room)
	pollFirst.ApplyPage(domain.MessagePage{Items: []domain.Message{msg(2), msg(1)}})
	pollFirst.MergeLatest(page)
	pollFirst.ApplyCreated(msg(3))

	assert.Equal(t, ids(pushFirst.Messages()), ids(pollFirst.Messages()))
	assert.Equal(t, 3, pollFirst.Len())
}

func pageOf(next string, from, to int) domain.MessagePage {
	page := domain.MessagePage{NextCursor: next}
	for n := from; n >= to; n-- {
		page.Items = append(page.Items, msg(n))
	}
	return page
}

func TestTimelinePollAfterLongDisconnectFillsGap(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyPage(pageOf("m3", 5, 3))

	tl.MergeLatest(pageOf("m11", 20, 11))
	cursor, open := tl.Gap()
	require.True(t, open)
	assert.Equal(t, "m11", cursor)
	tail, _ := tl.Cursor()
	assert.Equal(t, "m3", tail)

	tl.FillGap(pageOf("m8", 10, 8))
	cursor, open = tl.Gap()
	require.True(t, open)
	assert.Equal(t, "m8", cursor)

	tl.FillGap(pageOf("m5", 7, 5))
	_, open = tl.Gap()
	assert.False(t, open)

	tl.ApplyPage(pageOf("", 2, 1))
	want := make([]string, 0, 20)
	for n := 20; n >= 1; n-- {
		want = append(want, fmt.Sprintf("m%d", n))
	}
	assert.Equal(t, want, ids(tl.Messages()))
}

func TestTimelineOverlappingPollOpensNoGap(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyPage(pageOf("m3", 5, 3))
	tl.MergeLatest(pageOf("m4", 8, 4))

	_, open := tl.Gap()
	assert.False(t, open)
	assert.Equal(t, []string{"m8", "m7", "m6", "m5", "m4", "m3"}, ids(tl.Messages()))
}

func TestTimelineGapClosesAtEndOfStorage(t *testing.T) {
	tl := NewTimeline(room)
	tl.ApplyPage(domain.MessagePage{})
	tl.MergeLatest(pageOf("m4", 6, 4))
	_, open := tl.Gap()
	require.True(t, open)

	tl.FillGap(pageOf("", 3, 1))
	_, open = tl.Gap()
	assert.False(t, open)
	assert.Equal(t, []string{"m6", "m5", "m4", "m3", "m2", "m1"}, ids(tl.Messages()))
}
