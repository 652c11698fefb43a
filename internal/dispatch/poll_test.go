package dispatch

import (
	"testing"

	"github.com/watzon/userbot-api-server/internal/update"
)

func ids(us []update.Update) []int64 {
	out := make([]int64, len(us))
	for i, u := range us {
		out[i] = u.ID
	}
	return out
}

func buffered(idList ...int64) []update.Update {
	out := make([]update.Update, len(idList))
	for i, id := range idList {
		out[i] = update.Update{ID: id}
	}
	return out
}

func TestTakeBuffered(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		buf    []int64
		offset int64
		limit  int
		want   []int64
		ok     bool
	}{
		{name: "no offset returns all", buf: []int64{3, 4, 5}, limit: 100, want: []int64{3, 4, 5}, ok: true},
		{name: "offset filters at and below", buf: []int64{3, 4, 5, 6, 7}, offset: 5, limit: 100, want: []int64{6, 7}, ok: true},
		{name: "offset past everything", buf: []int64{3, 4, 5}, offset: 9, limit: 100, ok: false},
		{name: "limit truncates", buf: []int64{1, 2, 3, 4}, limit: 2, want: []int64{1, 2}, ok: true},
		{name: "empty buffer", limit: 100, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := takeBuffered(buffered(tt.buf...), tt.offset, tt.limit)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", ids(got), tt.want)
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Fatalf("got %v, want %v", ids(got), tt.want)
				}
			}
		})
	}
}

func TestPruneAcked(t *testing.T) {
	t.Parallel()
	got := pruneAcked(buffered(3, 4, 5, 6), 5)
	if len(got) != 1 || got[0].ID != 6 {
		t.Fatalf("pruneAcked = %v, want [6]", ids(got))
	}
	if got := pruneAcked(buffered(3, 4), 0); len(got) != 2 {
		t.Fatalf("zero offset pruned entries: %v", ids(got))
	}
}
