package dispatch

import (
	"testing"
	"time"

	"github.com/watzon/userbot-api-server/internal/provider"
)

func frag(id int64, group string, seq int64) provider.Message {
	return provider.Message{MessageID: id, ChatID: 1, GroupID: group, GroupSeq: seq}
}

func TestAlbumFastPathFlushesOnSecondFragment(t *testing.T) {
	t.Parallel()
	a := newAlbumAssembler(time.Hour, time.Hour, func(albumKey, uint64) {})
	k := albumKey{account: "a1", group: "g1"}

	if got := a.Offer(k, frag(10, "g1", 0)); got != nil {
		t.Fatalf("first fragment flushed early: %v", got)
	}
	got := a.Offer(k, frag(11, "g1", 0))
	if len(got) != 2 {
		t.Fatalf("got %d fragments, want 2", len(got))
	}
	if got[0].MessageID != 10 || got[1].MessageID != 11 {
		t.Fatalf("fragments out of order: %d, %d", got[0].MessageID, got[1].MessageID)
	}
	if a.Open() != 0 {
		t.Fatalf("group still open after flush")
	}
}

func TestAlbumOrdersByGroupSeq(t *testing.T) {
	t.Parallel()
	a := newAlbumAssembler(time.Hour, time.Hour, func(albumKey, uint64) {})
	k := albumKey{account: "a1", group: "g1"}

	a.Offer(k, frag(20, "g1", 2))
	got := a.Offer(k, frag(19, "g1", 1))
	if got[0].MessageID != 19 || got[1].MessageID != 20 {
		t.Fatalf("group seq ordering not applied: %d, %d", got[0].MessageID, got[1].MessageID)
	}
}

func TestAlbumTimeoutEmitsLoneFragment(t *testing.T) {
	t.Parallel()
	fired := make(chan uint64, 1)
	a := newAlbumAssembler(20*time.Millisecond, 20*time.Millisecond, func(k albumKey, gen uint64) {
		fired <- gen
	})
	k := albumKey{account: "a1", group: "g1"}
	a.Offer(k, frag(10, "g1", 0))

	var gen uint64
	select {
	case gen = <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("debounce timer never fired")
	}

	got := a.TakeExpired(k, gen)
	if len(got) != 1 || got[0].MessageID != 10 {
		t.Fatalf("TakeExpired = %v, want lone fragment 10", got)
	}
	if a.TakeExpired(k, gen) != nil {
		t.Fatal("second TakeExpired returned a group")
	}
}

func TestAlbumStaleGenerationIgnored(t *testing.T) {
	t.Parallel()
	fired := make(chan uint64, 2)
	a := newAlbumAssembler(time.Hour, time.Hour, func(k albumKey, gen uint64) {
		fired <- gen
	})
	k := albumKey{account: "a1", group: "g1"}
	a.Offer(k, frag(10, "g1", 0))

	// A fast-path flush leaves the old timer generation dangling.
	a.Offer(k, frag(11, "g1", 0))
	if got := a.TakeExpired(k, 1); got != nil {
		t.Fatalf("stale generation resolved a group: %v", got)
	}
}

func TestAlbumDropAccount(t *testing.T) {
	t.Parallel()
	a := newAlbumAssembler(time.Hour, time.Hour, func(albumKey, uint64) {})
	a.Offer(albumKey{account: "a1", group: "g1"}, frag(10, "g1", 0))
	a.Offer(albumKey{account: "a2", group: "g2"}, frag(20, "g2", 0))

	a.DropAccount("a1")
	if a.Open() != 1 {
		t.Fatalf("Open = %d, want 1", a.Open())
	}
	if got := a.TakeExpired(albumKey{account: "a1", group: "g1"}, 1); got != nil {
		t.Fatal("dropped account's group still resolvable")
	}
}
