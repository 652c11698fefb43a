package update

import (
	"encoding/json"
	"testing"
)

func TestKindSingleVariant(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		u    Update
		want Kind
	}{
		{name: "empty", u: Update{ID: 1}, want: ""},
		{name: "message", u: Update{ID: 2, Message: &Message{ID: 10}}, want: KindMessage},
		{name: "edited", u: Update{ID: 3, EditedMessage: &Message{ID: 11}}, want: KindEditedMessage},
		{name: "deleted", u: Update{ID: 4, DeletedMessage: &DeletedMessage{ChatID: 1}}, want: KindDeletedMessage},
		{name: "album", u: Update{ID: 5, Album: &Album{GroupID: "g"}}, want: KindAlbum},
		{name: "reaction", u: Update{ID: 6, Reaction: &Reaction{MessageID: 9}}, want: KindReaction},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.u.Kind(); got != tt.want {
				t.Fatalf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONOmitsUnpopulatedVariants(t *testing.T) {
	t.Parallel()
	u := Update{ID: 42, Message: &Message{ID: 7, ChatID: 100, Text: "hi"}}
	b, err := json.Marshal(&u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("expected update_id + one variant, got keys %v", keys(m))
	}
	if _, ok := m["update_id"]; !ok {
		t.Fatal("missing update_id")
	}
	if _, ok := m["message"]; !ok {
		t.Fatal("missing message variant")
	}
}

func TestParseKinds(t *testing.T) {
	t.Parallel()
	got, err := ParseKinds([]string{"message", " Album "})
	if err != nil {
		t.Fatalf("ParseKinds: %v", err)
	}
	if len(got) != 2 || got[0] != KindMessage || got[1] != KindAlbum {
		t.Fatalf("unexpected kinds: %v", got)
	}

	if _, err := ParseKinds([]string{"mesage"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
