package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/shelf/internal/config"
	"github.com/MrSnakeDoc/shelf/internal/domain"
)

func TestActivateLoadsSortedList(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(ownerA,
		bookmark("a", 2*time.Hour, "A"),
		bookmark("c", 0, "C"),
		bookmark("b", time.Hour, "B"),
	)
	c := newController(t, repo, newFakeFeed(), Options{})

	require.NoError(t, c.Activate(ownerA))
	v, err := c.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusReady, v.Status)
	assert.Equal(t, ownerA, v.OwnerID)
	assert.Equal(t, []string{"c", "b", "a"}, ids(v.Bookmarks))
	assert.NoError(t, v.Err)
}

func TestActivateSameOwnerIsNoop(t *testing.T) {
	repo := newFakeRepo()
	c := newController(t, repo, newFakeFeed(), Options{})

	require.NoError(t, c.Activate(ownerA))
	_, err := c.Await(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Activate(ownerA))

	lists, _ := repo.counts()
	assert.Equal(t, 1, lists)
}

func TestActivateRequiresOwner(t *testing.T) {
	c := newController(t, newFakeRepo(), newFakeFeed(), Options{})
	err := c.Activate("")
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestEventsBeforeLoadAreReplayedInOrder(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	repo.seed(ownerA, bookmark("a", 2*time.Hour, "A"), bookmark("b", time.Hour, "B"))
	repo.holdLists(ownerA)
	c := newController(t, repo, feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	repo.waitList(t)
	sub := feed.next(t)

	fresh := bookmark("n", 0, "N")
	sub.send(insert(fresh))
	sub.send(remove(bookmark("a", 0, "")))
	sub.send(update(bookmark("n", 0, "N edited")))

	require.Eventually(t, func() bool {
		var n int
		_ = c.call(func() { n = len(c.pending) })
		return n == 3
	}, wait, 5*time.Millisecond)
	assert.Equal(t, StatusLoading, c.Snapshot().Status)

	repo.release(ownerA)
	v := waitView(t, c, ready)

	assert.Equal(t, []string{"n", "b"}, ids(v.Bookmarks))
	assert.Equal(t, "N edited", v.Bookmarks[0].Title)
	assert.True(t, v.Live)
}

func TestCreateEchoAndFeedInsertConverge(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	c := newController(t, repo, feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	sub := feed.next(t)
	waitView(t, c, func(v View) bool { return ready(v) && v.Live })

	b, err := c.Create(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)

	v := c.Snapshot()
	require.Len(t, v.Bookmarks, 1)
	assert.Equal(t, "https://example.com", v.Bookmarks[0].URL)
	assert.Equal(t, "Example", v.Bookmarks[0].Title)

	// The feed delivers the same row: no duplicate. A later update proves it was processed.
	sub.send(insert(b))
	edited := b
	edited.Title = "Example (edited)"
	sub.send(update(edited))

	v = waitView(t, c, func(v View) bool {
		return len(v.Bookmarks) > 0 && v.Bookmarks[0].Title == "Example (edited)"
	})
	assert.Len(t, v.Bookmarks, 1)
}

func TestCreateRejectsWhitespaceTitleWithoutStoreCall(t *testing.T) {
	repo := newFakeRepo()
	c := newController(t, repo, newFakeFeed(), Options{})
	require.NoError(t, c.Activate(ownerA))

	_, err := c.Create(context.Background(), "https://example.com", "  ")

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
	_, creates := repo.counts()
	assert.Zero(t, creates)
}

func TestCreateRejectsRelativeURL(t *testing.T) {
	repo := newFakeRepo()
	c := newController(t, repo, newFakeFeed(), Options{})
	require.NoError(t, c.Activate(ownerA))

	_, err := c.Create(context.Background(), "/relative", "Title")

	assert.ErrorIs(t, err, domain.ErrValidation)
	_, creates := repo.counts()
	assert.Zero(t, creates)
}

func TestCreateWithoutOwnerIsAuthError(t *testing.T) {
	repo := newFakeRepo()
	c := newController(t, repo, newFakeFeed(), Options{})

	_, err := c.Create(context.Background(), "https://example.com", "Example")

	assert.ErrorIs(t, err, domain.ErrAuth)
	_, creates := repo.counts()
	assert.Zero(t, creates)
}

func TestDeleteConvergesThroughFeed(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	a := bookmark("a", 0, "A")
	repo.seed(ownerA, a)
	c := newController(t, repo, feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	sub := feed.next(t)
	waitView(t, c, ready)

	require.NoError(t, c.Delete(context.Background(), "a"))
	assert.Zero(t, repo.count(ownerA))
	assert.Len(t, c.Snapshot().Bookmarks, 1, "delete never mutates the list locally")

	sub.send(remove(a))
	waitView(t, c, func(v View) bool { return len(v.Bookmarks) == 0 })
}

func TestDeleteForeignBookmarkIsNoop(t *testing.T) {
	repo := newFakeRepo()
	other := bookmark("theirs", 0, "Theirs")
	repo.seed(ownerB, other)

	mine := newController(t, repo, newFakeFeed(), Options{})
	theirs := newController(t, repo, newFakeFeed(), Options{})
	require.NoError(t, mine.Activate(ownerA))
	require.NoError(t, theirs.Activate(ownerB))
	waitView(t, mine, ready)
	waitView(t, theirs, ready)

	require.NoError(t, mine.Delete(context.Background(), "theirs"))

	assert.Equal(t, 1, repo.count(ownerB))
	assert.Equal(t, []string{"theirs"}, ids(theirs.Snapshot().Bookmarks))
}

func TestDeactivateDiscardsInFlightList(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	repo.seed(ownerA, bookmark("a", 0, "A"))
	repo.holdLists(ownerA)
	c := newController(t, repo, feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	repo.waitList(t)
	sub := feed.next(t)

	require.NoError(t, c.Deactivate())
	repo.release(ownerA)

	assert.Never(t, func() bool {
		v := c.Snapshot()
		return v.Status != StatusIdle || len(v.Bookmarks) > 0
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.Eventually(t, sub.isClosed, wait, 5*time.Millisecond)
}

func TestOwnerSwitchDiscardsPreviousOwnerResult(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(ownerA, bookmark("a", 0, "A"))
	repo.seed(ownerB, bookmark("b", 0, "B"))
	repo.holdLists(ownerA)
	c := newController(t, repo, newFakeFeed(), Options{})

	require.NoError(t, c.Activate(ownerA))
	repo.waitList(t)
	require.NoError(t, c.Activate(ownerB))
	v := waitView(t, c, ready)
	require.Equal(t, ownerB, v.OwnerID)

	repo.release(ownerA)

	assert.Never(t, func() bool {
		v := c.Snapshot()
		return v.OwnerID != ownerB || len(v.Bookmarks) != 1 || v.Bookmarks[0].ID != "b"
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestInitialLoadFailureThenReload(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	repo.seed(ownerA, bookmark("a", time.Hour, "A"))
	repo.setListErr(&domain.StoreError{Op: "list", Err: errors.New("connection refused")})
	c := newController(t, repo, feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	sub := feed.next(t)
	v, err := c.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, v.Status)
	assert.Empty(t, v.Bookmarks)
	assert.ErrorIs(t, v.Err, domain.ErrStore)
	assert.NotEmpty(t, v.Error)

	// Events keep buffering while failed and land on the next snapshot.
	sub.send(insert(bookmark("n", 0, "N")))
	require.Eventually(t, func() bool {
		var n int
		_ = c.call(func() { n = len(c.pending) })
		return n == 1
	}, wait, 5*time.Millisecond)

	repo.setListErr(nil)
	require.NoError(t, c.Reload())
	v = waitView(t, c, ready)

	assert.Equal(t, []string{"n", "a"}, ids(v.Bookmarks))
	assert.NoError(t, v.Err)
}

func TestPendingOverflowFallsBackToFullReload(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	repo.seed(ownerA, bookmark("a", time.Hour, "A"))
	repo.setListErr(&domain.StoreError{Op: "list", Err: errors.New("connection refused")})
	c := newController(t, repo, feed, Options{MaxPending: 2})

	require.NoError(t, c.Activate(ownerA))
	sub := feed.next(t)
	v, err := c.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, v.Status)

	sub.send(insert(bookmark("x", 0, "X")))
	sub.send(insert(bookmark("y", 0, "Y")))
	sub.send(insert(bookmark("z", 0, "Z")))

	var (
		pending []domain.ChangeEvent
		again   bool
	)
	require.Eventually(t, func() bool {
		_ = c.call(func() { pending, again = c.pending, c.reloadAgain })
		return again
	}, wait, 5*time.Millisecond)
	require.Len(t, pending, 1, "buffer restarts after the overflow")
	assert.Equal(t, "z", pending[0].New.ID)

	repo.setListErr(nil)
	require.NoError(t, c.Reload())

	// Initial load, the reload itself, then the catch-up reload.
	require.Eventually(t, func() bool {
		lists, _ := repo.counts()
		return lists == 3
	}, wait, 5*time.Millisecond)
	v = waitView(t, c, func(v View) bool { return v.Status == StatusReady && !v.Reloading })
	assert.Contains(t, ids(v.Bookmarks), "a")
}

func TestReloadFailureKeepsList(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(ownerA, bookmark("a", 0, "A"))
	c := newController(t, repo, newFakeFeed(), Options{})

	require.NoError(t, c.Activate(ownerA))
	waitView(t, c, ready)

	repo.setListErr(&domain.StoreError{Op: "list", Err: errors.New("timeout")})
	require.NoError(t, c.Reload())
	v := waitView(t, c, func(v View) bool { return !v.Reloading && v.Err != nil })

	assert.Equal(t, StatusReady, v.Status)
	assert.Equal(t, []string{"a"}, ids(v.Bookmarks))
	assert.ErrorIs(t, v.Err, domain.ErrStore)
}

func TestReloadReplaysEventsReceivedDuringReload(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	repo.seed(ownerA, bookmark("a", time.Hour, "A"), bookmark("gone", 2*time.Hour, "Gone"))
	c := newController(t, repo, feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	sub := feed.next(t)
	waitView(t, c, func(v View) bool { return ready(v) && v.Live })
	repo.waitList(t)

	repo.holdLists(ownerA)
	require.NoError(t, c.Reload())
	repo.waitList(t)

	// Applied live, and again on top of the (older) snapshot.
	sub.send(insert(bookmark("n", 0, "N")))
	sub.send(remove(bookmark("gone", 0, "")))
	waitView(t, c, func(v View) bool { return v.Reloading && len(v.Bookmarks) == 2 })

	repo.release(ownerA)
	v := waitView(t, c, func(v View) bool { return !v.Reloading })

	assert.Equal(t, []string{"n", "a"}, ids(v.Bookmarks))
}

func TestSubscribeFailureMarksNotLive(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	feed.setErr(errors.New("redis: connection refused"))
	repo.seed(ownerA, bookmark("a", 0, "A"))
	c := newController(t, repo, feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	v := waitView(t, c, func(v View) bool { return ready(v) && v.Err != nil })

	assert.False(t, v.Live)
	assert.ErrorIs(t, v.Err, domain.ErrFeed)
	assert.Equal(t, []string{"a"}, ids(v.Bookmarks))

	// Reload retries the subscription.
	feed.setErr(nil)
	require.NoError(t, c.Reload())
	feed.next(t)
	v = waitView(t, c, func(v View) bool { return v.Live && !v.Reloading })
	assert.NoError(t, v.Err)
}

func TestSubscriptionEndMarksNotLive(t *testing.T) {
	feed := newFakeFeed()
	c := newController(t, newFakeRepo(), feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	sub := feed.next(t)
	waitView(t, c, func(v View) bool { return ready(v) && v.Live })

	require.NoError(t, sub.Close())
	v := waitView(t, c, func(v View) bool { return !v.Live })
	assert.ErrorIs(t, v.Err, domain.ErrFeed)
}

func TestResyncPolicy(t *testing.T) {
	tests := []struct {
		policy    config.ResyncPolicy
		wantLists int
	}{
		{config.ResyncReload, 2},
		{config.ResyncIgnore, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			repo := newFakeRepo()
			feed := newFakeFeed()
			c := newController(t, repo, feed, Options{ResyncPolicy: tt.policy})

			require.NoError(t, c.Activate(ownerA))
			sub := feed.next(t)
			waitView(t, c, func(v View) bool { return ready(v) && v.Live })

			sub.send(domain.ChangeEvent{Kind: domain.EventResync})
			sub.send(insert(bookmark("n", 0, "N")))
			waitView(t, c, func(v View) bool { return len(v.Bookmarks) == 1 && !v.Reloading })

			require.Eventually(t, func() bool {
				lists, _ := repo.counts()
				return lists == tt.wantLists
			}, wait, 5*time.Millisecond)
		})
	}
}

func TestWatchDeliversLatestView(t *testing.T) {
	feed := newFakeFeed()
	c := newController(t, newFakeRepo(), feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	sub := feed.next(t)
	waitView(t, c, func(v View) bool { return ready(v) && v.Live })

	ch, cancel := c.Watch()
	defer cancel()

	sub.send(insert(bookmark("a", 2*time.Hour, "A")))
	sub.send(insert(bookmark("b", time.Hour, "B")))
	sub.send(insert(bookmark("c", 0, "C")))
	require.Eventually(t, func() bool { return len(c.Snapshot().Bookmarks) == 3 }, wait, 5*time.Millisecond)

	v := <-ch
	assert.Len(t, v.Bookmarks, 3)
	assert.Equal(t, c.Snapshot().Version, v.Version)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra view %d", extra.Version)
	default:
	}
}

func TestPeriodicReload(t *testing.T) {
	repo := newFakeRepo()
	c := newController(t, repo, newFakeFeed(), Options{ReloadInterval: 10 * time.Millisecond})

	require.NoError(t, c.Activate(ownerA))
	require.Eventually(t, func() bool {
		lists, _ := repo.counts()
		return lists >= 3
	}, wait, 5*time.Millisecond)
}

func TestRequestReloadCoalesces(t *testing.T) {
	repo := newFakeRepo()
	c := newController(t, repo, newFakeFeed(), Options{})

	require.NoError(t, c.Activate(ownerA))
	waitView(t, c, ready)

	assert.True(t, c.RequestReload())
	require.Eventually(t, func() bool {
		lists, _ := repo.counts()
		return lists == 2
	}, wait, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	feed := newFakeFeed()
	c := newController(t, newFakeRepo(), feed, Options{})

	require.NoError(t, c.Activate(ownerA))
	sub := feed.next(t)
	waitView(t, c, ready)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Eventually(t, sub.isClosed, wait, 5*time.Millisecond)
	assert.ErrorIs(t, c.Reload(), ErrClosed)
	assert.ErrorIs(t, c.Activate(ownerA), ErrClosed)

	ch, cancel := c.Watch()
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestAwaitHonoursContext(t *testing.T) {
	repo := newFakeRepo()
	repo.holdLists(ownerA)
	c := newController(t, repo, newFakeFeed(), Options{})
	t.Cleanup(func() { repo.release(ownerA) })

	require.NoError(t, c.Activate(ownerA))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	v, err := c.Await(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusLoading, v.Status)
}

func TestIdleTracksWatchers(t *testing.T) {
	c := newController(t, newFakeRepo(), newFakeFeed(), Options{})

	_, idle := c.Idle(time.Now())
	assert.True(t, idle)

	_, cancel := c.Watch()
	_, idle = c.Idle(time.Now())
	assert.False(t, idle)
	assert.Equal(t, 1, c.Watchers())

	cancel()
	cancel()
	d, idle := c.Idle(time.Now().Add(time.Minute))
	assert.True(t, idle)
	assert.GreaterOrEqual(t, d, 59*time.Second)
}
