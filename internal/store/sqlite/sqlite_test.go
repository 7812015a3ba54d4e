package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCounter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, err := st.AllocateID(ctx)
	if err != nil || a != 1 {
		t.Fatalf("first allocation: %d, %v", a, err)
	}
	b, err := st.AllocateID(ctx)
	if err != nil || b != 2 {
		t.Fatalf("second allocation: %d, %v", b, err)
	}

	// Only the most recent allocation can be released.
	if err := st.ReleaseID(ctx, a); err != nil {
		t.Fatalf("release old: %v", err)
	}
	if next, _ := st.AllocateID(ctx); next != 3 {
		t.Fatalf("old release rewound counter: %d", next)
	}
	if err := st.ReleaseID(ctx, 3); err != nil {
		t.Fatalf("release latest: %v", err)
	}
	if next, _ := st.AllocateID(ctx); next != 3 {
		t.Fatalf("latest release should rewind: %d", next)
	}
}

func TestPendingLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		p := model.Pending{ID: i, Text: fmt.Sprintf("conf %d", i), FromUser: 10 + i, UserAlias: "Anon"}
		if err := st.CreatePending(ctx, p); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	pending, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len: %d", len(pending))
	}
	for i, p := range pending {
		if p.ID != int64(i+1) {
			t.Fatalf("order broken: %+v", pending)
		}
	}

	p, err := st.TakePending(ctx, model.PendingKey(2))
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if p.Text != "conf 2" || p.FromUser != 12 {
		t.Fatalf("taken pending lost fields: %+v", p)
	}
	if _, err := st.TakePending(ctx, model.PendingKey(2)); !errors.Is(err, store.ErrAlreadyHandled) {
		t.Fatalf("second take: %v", err)
	}
	if pending, _ = st.ListPending(ctx); len(pending) != 2 {
		t.Fatalf("list after take: %+v", pending)
	}
}

func TestPostedLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	posted := model.Confession{
		ID:        1,
		Text:      "live",
		UserAlias: "Ann",
		PostedAt:  time.Now().Truncate(time.Second),
		Comments:  []model.Comment{},
	}
	if err := st.CreatePosted(ctx, posted); err != nil {
		t.Fatalf("create posted: %v", err)
	}

	c, err := st.GetPosted(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Text != "live" || c.ChannelMessageID != nil || len(c.Comments) != 0 {
		t.Fatalf("posted lost fields: %+v", c)
	}
	if !c.PostedAt.Equal(posted.PostedAt) {
		t.Fatalf("post time drifted: %v vs %v", c.PostedAt, posted.PostedAt)
	}

	if err := st.SetChannelMessage(ctx, 1, 555); err != nil {
		t.Fatalf("set channel message: %v", err)
	}
	c, _ = st.GetPosted(ctx, 1)
	if c.ChannelMessageID == nil || *c.ChannelMessageID != 555 {
		t.Fatalf("channel message: %+v", c.ChannelMessageID)
	}
	if err := st.SetChannelMessage(ctx, 99, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("set on unknown: %v", err)
	}

	all, err := st.ListPosted(ctx)
	if err != nil || len(all) != 1 || all[0].ID != 1 {
		t.Fatalf("list posted: %+v, %v", all, err)
	}

	removed, err := st.RemovePosted(ctx, 1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.ID != 1 {
		t.Fatalf("removed wrong row: %+v", removed)
	}
	if _, err := st.GetPosted(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after remove: %v", err)
	}
	if _, err := st.RemovePosted(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double remove: %v", err)
	}
}

func TestCommentsAndVotes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreatePosted(ctx, model.Confession{ID: 1, Text: "base", UserAlias: "A", PostedAt: time.Now()}); err != nil {
		t.Fatalf("create posted: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	for i := int64(2); i <= 4; i++ {
		cm := model.Comment{ID: i, Text: fmt.Sprintf("c%d", i), UserAlias: "B", ApprovedAt: now}
		if err := st.AppendComment(ctx, 1, cm); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := st.AppendComment(ctx, 9, model.Comment{ID: 5}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("append to unknown confession: %v", err)
	}

	if err := st.SetVote(ctx, 1, 3, 100, model.VoteLike); err != nil {
		t.Fatalf("vote: %v", err)
	}
	// Same voter switching kind overwrites, never double-counts.
	if err := st.SetVote(ctx, 1, 3, 100, model.VoteDislike); err != nil {
		t.Fatalf("switch vote: %v", err)
	}
	if err := st.SetVote(ctx, 1, 3, 101, model.VoteLike); err != nil {
		t.Fatalf("second voter: %v", err)
	}
	if err := st.SetVote(ctx, 1, 99, 100, model.VoteLike); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("vote on unknown comment: %v", err)
	}

	c, err := st.GetPosted(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(c.Comments) != 3 {
		t.Fatalf("comments: %+v", c.Comments)
	}
	// Insertion order is display order.
	for i, cm := range c.Comments {
		if cm.ID != int64(i+2) {
			t.Fatalf("comment order: %+v", c.Comments)
		}
	}
	voted := c.Comments[1]
	if voted.Likes() != 1 || voted.Dislikes() != 1 {
		t.Fatalf("derived counts: likes=%d dislikes=%d voters=%v", voted.Likes(), voted.Dislikes(), voted.Voters)
	}

	// Remove the middle comment by display position; neighbors keep ids.
	removed, err := st.RemoveComment(ctx, 1, 2)
	if err != nil {
		t.Fatalf("remove comment: %v", err)
	}
	if removed.ID != 3 || removed.Likes() != 1 || removed.Dislikes() != 1 {
		t.Fatalf("removed comment lost fields: %+v", removed)
	}
	c, _ = st.GetPosted(ctx, 1)
	if len(c.Comments) != 2 || c.Comments[0].ID != 2 || c.Comments[1].ID != 4 {
		t.Fatalf("comments after removal: %+v", c.Comments)
	}

	if _, err := st.RemoveComment(ctx, 1, 0); !errors.Is(err, store.ErrIndexOutOfRange) {
		t.Fatalf("index 0: %v", err)
	}
	if _, err := st.RemoveComment(ctx, 1, 3); !errors.Is(err, store.ErrIndexOutOfRange) {
		t.Fatalf("index past end: %v", err)
	}
	if _, err := st.RemoveComment(ctx, 9, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("remove from unknown confession: %v", err)
	}
}

func TestRemovePostedCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.CreatePosted(ctx, model.Confession{ID: 1, Text: "x", UserAlias: "A", PostedAt: time.Now()})
	st.AppendComment(ctx, 1, model.Comment{ID: 2, Text: "c", UserAlias: "B", ApprovedAt: time.Now()})
	st.SetVote(ctx, 1, 2, 7, model.VoteLike)

	removed, err := st.RemovePosted(ctx, 1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(removed.Comments) != 1 || removed.Comments[0].Likes() != 1 {
		t.Fatalf("removed confession lost comments: %+v", removed.Comments)
	}

	stats, err := st.Stats(ctx, 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Posted != 0 || stats.Comments != 0 {
		t.Fatalf("orphans after remove: %+v", stats)
	}
}

func TestAlias(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alias, err := st.Alias(ctx, 1)
	if err != nil || alias != store.DefaultAlias {
		t.Fatalf("default alias: %q, %v", alias, err)
	}

	if err := st.SetAlias(ctx, 1, "Bob"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if alias, _ = st.Alias(ctx, 1); alias != "Bob" {
		t.Fatalf("alias: %q", alias)
	}

	if err := st.SetAlias(ctx, 1, "Ann"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if alias, _ = st.Alias(ctx, 1); alias != "Ann" {
		t.Fatalf("alias after overwrite: %q", alias)
	}
}

func TestStatsMostDiscussed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.CreatePending(ctx, model.Pending{ID: 1, Text: "p", FromUser: 1, UserAlias: "A"})
	st.CreatePosted(ctx, model.Confession{ID: 2, Text: "quiet", UserAlias: "A", PostedAt: time.Now()})
	st.CreatePosted(ctx, model.Confession{ID: 3, Text: "busy", UserAlias: "A", PostedAt: time.Now()})
	st.AppendComment(ctx, 3, model.Comment{ID: 4, Text: "a", UserAlias: "B", ApprovedAt: time.Now()})
	st.AppendComment(ctx, 3, model.Comment{ID: 5, Text: "b", UserAlias: "B", ApprovedAt: time.Now()})
	st.AppendComment(ctx, 2, model.Comment{ID: 6, Text: "c", UserAlias: "B", ApprovedAt: time.Now()})
	st.SetAlias(ctx, 1, "Bob")

	stats, err := st.Stats(ctx, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Posted != 2 || stats.Comments != 3 || stats.Profiles != 1 {
		t.Fatalf("counts: %+v", stats)
	}
	if len(stats.MostDiscussed) != 1 || stats.MostDiscussed[0].ID != 3 {
		t.Fatalf("most discussed: %+v", stats.MostDiscussed)
	}
	if len(stats.MostDiscussed[0].Comments) != 2 {
		t.Fatalf("most discussed comments: %+v", stats.MostDiscussed[0].Comments)
	}
}

func TestReset(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.AllocateID(ctx)
	st.CreatePending(ctx, model.Pending{ID: 1, Text: "p", FromUser: 1, UserAlias: "A"})
	st.CreatePosted(ctx, model.Confession{ID: 2, Text: "x", UserAlias: "A", PostedAt: time.Now()})
	st.AppendComment(ctx, 2, model.Comment{ID: 3, Text: "c", UserAlias: "B", ApprovedAt: time.Now()})
	st.SetAlias(ctx, 1, "Bob")

	if err := st.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if id, _ := st.AllocateID(ctx); id != 1 {
		t.Fatalf("counter after reset: %d", id)
	}
	stats, _ := st.Stats(ctx, 0)
	if stats.Pending != 0 || stats.Posted != 0 || stats.Comments != 0 || stats.Profiles != 0 {
		t.Fatalf("entities after reset: %+v", stats)
	}
}

func TestSchemaReopen(t *testing.T) {
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := st.CreatePending(ctx, model.Pending{ID: 1, Text: "x", FromUser: 1, UserAlias: "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Second Open against the same database must treat the schema as
	// already applied and leave the data alone.
	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	defer st.Close()

	pending, err := again.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending after reopen: %v, %v", pending, err)
	}
}
