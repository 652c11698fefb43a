package dispatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/watzon/userbot-api-server/internal/update"
)

func key(token string) dedupKey {
	return dedupKey{account: "a1", kind: update.KindMessage, token: token}
}

func TestDedupSeenWithinTTL(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	f := newDedupFilter(100, time.Minute)
	f.now = func() time.Time { return now }

	if f.Seen(key("1:10")) {
		t.Fatal("fresh filter reported key as seen")
	}
	f.Remember(key("1:10"))
	if !f.Seen(key("1:10")) {
		t.Fatal("remembered key not seen")
	}
	if f.Seen(key("1:11")) {
		t.Fatal("different token reported as seen")
	}
	if f.Seen(dedupKey{account: "a2", kind: update.KindMessage, token: "1:10"}) {
		t.Fatal("other account's key reported as seen")
	}
}

func TestDedupExpiry(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	f := newDedupFilter(100, time.Minute)
	f.now = func() time.Time { return now }

	f.Remember(key("1:10"))
	now = now.Add(59 * time.Second)
	if !f.Seen(key("1:10")) {
		t.Fatal("key expired before TTL")
	}
	now = now.Add(2 * time.Second)
	if f.Seen(key("1:10")) {
		t.Fatal("key still seen after TTL")
	}
}

func TestDedupCapacityEvictsOldestFirst(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	f := newDedupFilter(3, time.Hour)
	f.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		f.Remember(key(fmt.Sprintf("1:%d", i)))
		now = now.Add(time.Second)
	}
	if f.Len() != 3 {
		t.Fatalf("Len = %d, want 3", f.Len())
	}
	if f.Seen(key("1:0")) {
		t.Fatal("oldest key survived capacity eviction")
	}
	for i := 1; i < 4; i++ {
		if !f.Seen(key(fmt.Sprintf("1:%d", i))) {
			t.Fatalf("key 1:%d evicted out of order", i)
		}
	}
}

func TestDedupCapacityPrefersExpired(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	f := newDedupFilter(2, 10*time.Second)
	f.now = func() time.Time { return now }

	f.Remember(key("1:1"))
	now = now.Add(11 * time.Second) // 1:1 expires
	f.Remember(key("1:2"))
	now = now.Add(time.Second)
	f.Remember(key("1:3"))

	// The expired entry absorbed the capacity pressure; both live
	// entries survive.
	if !f.Seen(key("1:2")) || !f.Seen(key("1:3")) {
		t.Fatal("live entry evicted while an expired one existed")
	}
}

func TestDedupSweep(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	f := newDedupFilter(100, 10*time.Second)
	f.now = func() time.Time { return now }

	f.Remember(key("1:1"))
	f.Remember(key("1:2"))
	now = now.Add(11 * time.Second)
	f.Remember(key("1:3"))

	if n := f.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d live entries, want 1", n)
	}
	if !f.Seen(key("1:3")) {
		t.Fatal("fresh entry lost in sweep")
	}
}

func TestDedupResize(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	f := newDedupFilter(10, time.Minute)
	f.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		f.Remember(key(fmt.Sprintf("1:%d", i)))
		now = now.Add(time.Second)
	}

	f.Resize(2, 10*time.Second)
	if got := f.Len(); got != 2 {
		t.Fatalf("Len after shrink = %d, want 2", got)
	}
	if f.Seen(key("1:0")) {
		t.Fatal("oldest entry survived shrink")
	}
	if !f.Seen(key("1:4")) {
		t.Fatal("newest entry lost in shrink")
	}

	// The shorter window takes effect for entries already present.
	now = now.Add(11 * time.Second)
	if f.Seen(key("1:4")) {
		t.Fatal("entry survived past the shortened window")
	}

	// Non-positive values keep the current settings.
	f.Resize(0, 0)
	f.Remember(key("2:1"))
	if !f.Seen(key("2:1")) {
		t.Fatal("filter unusable after no-op resize")
	}
}
