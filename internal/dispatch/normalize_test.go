package dispatch

import (
	"testing"
	"time"

	"github.com/watzon/userbot-api-server/internal/provider"
	"github.com/watzon/userbot-api-server/internal/update"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	date := time.Unix(1700000000, 0)
	tests := []struct {
		name      string
		ev        provider.Event
		kind      update.Kind
		wantToken string
	}{
		{name: "message", ev: provider.Message{MessageID: 7, ChatID: 2}, kind: update.KindMessage, wantToken: "2:7"},
		{name: "edited message", ev: provider.Message{MessageID: 7, ChatID: 2, Edited: true, Date: date}, kind: update.KindEditedMessage, wantToken: "2:7:1700000000"},
		{name: "channel post", ev: provider.Message{MessageID: 7, ChatID: 2, ChannelPost: true}, kind: update.KindChannelPost, wantToken: "2:7"},
		{name: "edited channel post", ev: provider.Message{MessageID: 7, ChatID: 2, ChannelPost: true, Edited: true, Date: date}, kind: update.KindEditedChannelPost, wantToken: "2:7:1700000000"},
		{name: "album fragment", ev: provider.Message{MessageID: 7, ChatID: 2, GroupID: "g"}, kind: update.KindAlbum, wantToken: "2:7"},
		{name: "deleted", ev: provider.Deleted{ChatID: 2, MessageIDs: []int64{7}}, kind: update.KindDeletedMessage},
		{name: "user status", ev: provider.UserStatus{UserID: 3}, kind: update.KindUserStatus},
		{name: "typing", ev: provider.Typing{ChatID: 2, UserID: 3}, kind: update.KindTypingStatus},
		{name: "chat action", ev: provider.ChatAction{ChatID: 2, ActorID: 3}, kind: update.KindChatAction},
		{name: "reaction", ev: provider.Reaction{ChatID: 2, MessageID: 7}, kind: update.KindReaction},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			kind, token := classify(tt.ev)
			if kind != tt.kind {
				t.Fatalf("kind = %s, want %s", kind, tt.kind)
			}
			if token != tt.wantToken {
				t.Fatalf("token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}

func TestEditTokensStayDistinct(t *testing.T) {
	t.Parallel()
	first := provider.Message{MessageID: 7, ChatID: 2, Edited: true, Date: time.Unix(100, 0)}
	second := provider.Message{MessageID: 7, ChatID: 2, Edited: true, Date: time.Unix(200, 0)}
	_, t1 := classify(first)
	_, t2 := classify(second)
	if t1 == t2 {
		t.Fatalf("successive edits share dedup token %q", t1)
	}
}

func TestBuildUpdateVariantPlacement(t *testing.T) {
	t.Parallel()
	ev := provider.Message{MessageID: 7, ChatID: 2, Text: "hi", ChannelPost: true}
	u := buildUpdate(99, update.KindChannelPost, ev)
	if u.ID != 99 {
		t.Fatalf("ID = %d, want 99", u.ID)
	}
	if u.Kind() != update.KindChannelPost {
		t.Fatalf("Kind = %s, want channel_post", u.Kind())
	}
	if u.ChannelPost == nil || u.ChannelPost.Text != "hi" {
		t.Fatalf("channel post payload not populated: %+v", u)
	}

	r := buildUpdate(100, update.KindReaction, provider.Reaction{ChatID: 2, MessageID: 7, Emoji: "x", Removed: true})
	if r.Reaction == nil || !r.Reaction.Removed || r.Reaction.Emoji != "x" {
		t.Fatalf("reaction payload not populated: %+v", r)
	}
}

func TestBuildAlbum(t *testing.T) {
	t.Parallel()
	items := []provider.Message{
		{MessageID: 10, ChatID: 2, GroupID: "g", MediaType: "photo"},
		{MessageID: 11, ChatID: 2, GroupID: "g", MediaType: "video"},
	}
	u := buildAlbum(5, "g", items)
	if u.Kind() != update.KindAlbum {
		t.Fatalf("Kind = %s, want album", u.Kind())
	}
	if u.Album.GroupID != "g" || len(u.Album.Messages) != 2 {
		t.Fatalf("album payload wrong: %+v", u.Album)
	}
	if u.Album.Messages[1].MediaType != "video" {
		t.Fatalf("fragment fields lost: %+v", u.Album.Messages[1])
	}
}
