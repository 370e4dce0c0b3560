// Package cache keeps the client-side message history of one room and merges
// REST pages and pushed events into it.
package cache

import (
	"sort"
	"sync"

	"chat_sync/server/realtime/domain"
)

type segment int

const (
	segNewer segment = iota
	segOlder
)

type slot struct {
	seg segment
	pos int
}

// gap is a stretch of history missing between a polled page and what was held
// before it. cursor is where the next fill page starts; floor is the newest
// message held below the gap.
type gap struct {
	cursor   string
	floor    domain.Message
	hasFloor bool
}

// Timeline is the cached history of one room, newest first. Items pushed after
// the first page live in newer (oldest to newest); fetched pages live in older
// (newest to oldest). Neither segment is ever reordered by an update.
type Timeline struct {
	room domain.Room

	mu      sync.RWMutex
	newer   []domain.Message
	older   []domain.Message
	index   map[string]slot
	removed map[string]struct{}

	cursor  string
	loaded  bool
	hasMore bool
	gaps    []gap
}

func NewTimeline(room domain.Room) *Timeline {
	return &Timeline{
		room:    room,
		index:   map[string]slot{},
		removed: map[string]struct{}{},
		hasMore: true,
	}
}

func (t *Timeline) Room() domain.Room {
	return t.room
}

// Cursor returns the cursor for the next backfill and whether storage may hold
// anything older.
func (t *Timeline) Cursor() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cursor, t.hasMore
}

func (t *Timeline) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.newer) + len(t.older)
}

// Messages returns a copy of the cached history, newest first.
func (t *Timeline) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, 0, len(t.newer)+len(t.older))
	for i := len(t.newer) - 1; i >= 0; i-- {
		out = append(out, t.newer[i])
	}
	return append(out, t.older...)
}

func (t *Timeline) Get(messageID string) (domain.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.index[messageID]
	if !ok {
		return domain.Message{}, false
	}
	return *t.at(s), true
}

// Reactions groups the reaction tags of a cached message for display.
func (t *Timeline) Reactions(messageID, viewerID string) []domain.ReactionGroup {
	msg, ok := t.Get(messageID)
	if !ok {
		return nil
	}
	return domain.GroupReactions(msg.Reactions, viewerID)
}

// ToggleReaction flips tag on a held message without touching its UpdatedAt,
// so the server's copy of the same toggle always replaces it. Tombstones and
// unknown ids are left alone.
func (t *Timeline) ToggleReaction(messageID, tag string) (domain.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.index[messageID]
	if !ok {
		return domain.Message{}, false
	}
	cur := t.at(s)
	if cur.Deleted {
		return domain.Message{}, false
	}
	cur.Reactions, _ = domain.ToggleReaction(cur.Reactions, tag)
	return *cur, true
}

// ApplyPage appends one backfilled page to the older end. Items already held
// are merged in place and keep their position.
func (t *Timeline) ApplyPage(page domain.MessagePage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, msg := range page.Items {
		if !t.belongs(msg) {
			continue
		}
		if s, ok := t.index[msg.ID]; ok {
			t.overwrite(s, msg)
			continue
		}
		t.older = append(t.older, t.reconcile(msg))
		t.index[msg.ID] = slot{seg: segOlder, pos: len(t.older) - 1}
	}
	t.loaded = true
	t.cursor = page.NextCursor
	t.hasMore = page.NextCursor != ""
}

// ApplyCreated puts a pushed message at the newest end. A redelivered event
// for a message already held is merged in place.
func (t *Timeline) ApplyCreated(msg domain.Message) {
	if !t.belongs(msg) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.index[msg.ID]; ok {
		t.overwrite(s, msg)
		return
	}
	t.newer = append(t.newer, t.reconcile(msg))
	t.index[msg.ID] = slot{seg: segNewer, pos: len(t.newer) - 1}
}

// ApplyUpdated replaces a held message by identity. Unknown ids are ignored;
// a later backfill brings them in.
func (t *Timeline) ApplyUpdated(msg domain.Message) bool {
	if !t.belongs(msg) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.index[msg.ID]
	if !ok {
		return false
	}
	t.overwrite(s, msg)
	return true
}

// ApplyDeleted turns a held message into its tombstone in place. The id is
// remembered so that a late create or page for it also lands as a tombstone.
func (t *Timeline) ApplyDeleted(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removed[messageID] = struct{}{}
	s, ok := t.index[messageID]
	if !ok {
		return false
	}
	cur := t.at(s)
	*cur = cur.Tombstone()
	return true
}

// MergeLatest folds the newest page from a poll into the cache. Known items are
// merged in place, unknown newer items go to the newest end and anything else
// is placed by creation order. When the page shares nothing with the held
// history and storage has more below it, a gap is opened; see Gap and FillGap.
func (t *Timeline) MergeLatest(page domain.MessagePage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasLoaded := t.loaded
	if !t.loaded && len(t.newer) == 0 {
		t.loaded = true
		t.cursor = page.NextCursor
		t.hasMore = page.NextCursor != ""
	}

	floor, hasFloor := t.head()
	if wasLoaded && page.NextCursor != "" && t.detached(page.Items, floor, hasFloor) {
		t.gaps = append(t.gaps, gap{cursor: page.NextCursor, floor: floor, hasFloor: hasFloor})
	}
	t.mergeUnsorted(page.Items)
}

// Gap returns the cursor of the newest unfilled gap.
func (t *Timeline) Gap() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.gaps) == 0 {
		return "", false
	}
	return t.gaps[len(t.gaps)-1].cursor, true
}

// FillGap merges a page fetched from the Gap cursor. The gap closes once a
// page reaches held history or the end of storage; otherwise it narrows to
// the page's next cursor.
func (t *Timeline) FillGap(page domain.MessagePage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.gaps) == 0 {
		return
	}
	top := &t.gaps[len(t.gaps)-1]
	if page.NextCursor == "" || page.NextCursor == top.cursor || !t.detached(page.Items, top.floor, top.hasFloor) {
		t.gaps = t.gaps[:len(t.gaps)-1]
	} else {
		top.cursor = page.NextCursor
	}
	t.mergeUnsorted(page.Items)
}

// detached reports whether none of items is held and all are newer than floor.
func (t *Timeline) detached(items []domain.Message, floor domain.Message, hasFloor bool) bool {
	for _, msg := range items {
		if !t.belongs(msg) {
			continue
		}
		if _, ok := t.index[msg.ID]; ok {
			return false
		}
		if hasFloor && !msg.NewerThan(floor) {
			return false
		}
	}
	return true
}

func (t *Timeline) mergeUnsorted(items []domain.Message) {
	var misplaced []domain.Message
	for i := len(items) - 1; i >= 0; i-- {
		msg := items[i]
		if !t.belongs(msg) {
			continue
		}
		if s, ok := t.index[msg.ID]; ok {
			t.overwrite(s, msg)
			continue
		}
		msg = t.reconcile(msg)
		head, ok := t.head()
		if !ok || msg.NewerThan(head) {
			t.newer = append(t.newer, msg)
			t.index[msg.ID] = slot{seg: segNewer, pos: len(t.newer) - 1}
			continue
		}
		misplaced = append(misplaced, msg)
	}
	if len(misplaced) > 0 {
		t.insertSorted(misplaced)
	}
}

func (t *Timeline) belongs(msg domain.Message) bool {
	return msg.RoomKind == t.room.Kind && msg.RoomID == t.room.ID
}

func (t *Timeline) at(s slot) *domain.Message {
	if s.seg == segNewer {
		return &t.newer[s.pos]
	}
	return &t.older[s.pos]
}

func (t *Timeline) head() (domain.Message, bool) {
	if n := len(t.newer); n > 0 {
		return t.newer[n-1], true
	}
	if len(t.older) > 0 {
		return t.older[0], true
	}
	return domain.Message{}, false
}

func (t *Timeline) reconcile(msg domain.Message) domain.Message {
	msg.Reactions = domain.NormalizeReactions(msg.Reactions)
	if _, gone := t.removed[msg.ID]; gone && !msg.Deleted {
		return msg.Tombstone()
	}
	return msg
}

// overwrite replaces the held copy unless the incoming one is older. A
// tombstone never comes back to life.
func (t *Timeline) overwrite(s slot, msg domain.Message) {
	cur := t.at(s)
	if msg.UpdatedAt.Before(cur.UpdatedAt) {
		return
	}
	msg = t.reconcile(msg)
	if cur.Deleted && !msg.Deleted {
		msg = msg.Tombstone()
	}
	*cur = msg
}

// insertSorted places messages that are neither newer than the head nor
// already held. It only runs when a poll discovers a gap, so the whole view
// is rebuilt into the older segment.
func (t *Timeline) insertSorted(items []domain.Message) {
	all := make([]domain.Message, 0, len(t.newer)+len(t.older)+len(items))
	for i := len(t.newer) - 1; i >= 0; i-- {
		all = append(all, t.newer[i])
	}
	all = append(all, t.older...)
	all = append(all, items...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].NewerThan(all[j]) })

	t.newer = nil
	t.older = all
	t.index = make(map[string]slot, len(all))
	for i, msg := range all {
		t.index[msg.ID] = slot{seg: segOlder, pos: i}
	}
}
