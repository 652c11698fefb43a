// Package update defines the canonical envelope delivered to consumers.
//
// An Update carries exactly one populated payload variant, tagged by Kind.
// IDs are strictly increasing per account and never reused within a
// process lifetime; ordering reflects generation order, not provider-side
// event time.
package update

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindMessage           Kind = "message"
	KindEditedMessage     Kind = "edited_message"
	KindChannelPost       Kind = "channel_post"
	KindEditedChannelPost Kind = "edited_channel_post"
	KindDeletedMessage    Kind = "deleted_message"
	KindUserStatus        Kind = "user_status"
	KindTypingStatus      Kind = "typing_status"
	KindChatAction        Kind = "chat_action"
	KindReaction          Kind = "reaction"
	KindAlbum             Kind = "album"
)

// Kinds lists every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindMessage, KindEditedMessage, KindChannelPost, KindEditedChannelPost,
		KindDeletedMessage, KindUserStatus, KindTypingStatus, KindChatAction,
		KindReaction, KindAlbum,
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindEditedMessage, KindChannelPost, KindEditedChannelPost,
		KindDeletedMessage, KindUserStatus, KindTypingStatus, KindChatAction,
		KindReaction, KindAlbum:
		return true
	}
	return false
}

// ParseKinds parses a list of kind names (e.g. from persisted account
// settings). Unknown names are rejected so typos fail loudly at setup
// instead of silently filtering everything.
func ParseKinds(raw []string) ([]Kind, error) {
	out := make([]Kind, 0, len(raw))
	for _, s := range raw {
		k := Kind(strings.TrimSpace(strings.ToLower(s)))
		if !k.Valid() {
			return nil, fmt.Errorf("unknown update kind %q", s)
		}
		out = append(out, k)
	}
	return out, nil
}

// Update is the canonical envelope. Exactly one payload pointer is
// non-nil; the JSON encoding omits the rest.
type Update struct {
	ID int64 `json:"update_id"`

	Message           *Message        `json:"message,omitempty"`
	EditedMessage     *Message        `json:"edited_message,omitempty"`
	ChannelPost       *Message        `json:"channel_post,omitempty"`
	EditedChannelPost *Message        `json:"edited_channel_post,omitempty"`
	DeletedMessage    *DeletedMessage `json:"deleted_message,omitempty"`
	UserStatus        *UserStatus     `json:"user_status,omitempty"`
	TypingStatus      *TypingStatus   `json:"typing_status,omitempty"`
	ChatAction        *ChatAction     `json:"chat_action,omitempty"`
	Reaction          *Reaction       `json:"reaction,omitempty"`
	Album             *Album          `json:"album,omitempty"`
}

// Kind returns the kind of the populated payload variant, or "" for a
// malformed (empty) envelope.
func (u *Update) Kind() Kind {
	switch {
	case u.Message != nil:
		return KindMessage
	case u.EditedMessage != nil:
		return KindEditedMessage
	case u.ChannelPost != nil:
		return KindChannelPost
	case u.EditedChannelPost != nil:
		return KindEditedChannelPost
	case u.DeletedMessage != nil:
		return KindDeletedMessage
	case u.UserStatus != nil:
		return KindUserStatus
	case u.TypingStatus != nil:
		return KindTypingStatus
	case u.ChatAction != nil:
		return KindChatAction
	case u.Reaction != nil:
		return KindReaction
	case u.Album != nil:
		return KindAlbum
	}
	return ""
}

// Message is a normalized message-shaped payload. It backs the message,
// edited_message, channel_post and edited_channel_post kinds and is the
// element type of albums.
type Message struct {
	ID         int64     `json:"message_id"`
	ChatID     int64     `json:"chat_id"`
	SenderID   int64     `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text,omitempty"`
	Date       time.Time `json:"date"`

	// Media metadata (opaque provider reference, no bytes).
	MediaType string `json:"media_type,omitempty"`
	MediaRef  string `json:"media_ref,omitempty"`

	// GroupID ties grouped-media fragments together. Populated on album
	// members; empty on standalone messages.
	GroupID string `json:"group_id,omitempty"`
}

type DeletedMessage struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
}

type UserStatus struct {
	UserID   int64     `json:"user_id"`
	Status   string    `json:"status"` // "online", "offline", "recently", ...
	LastSeen time.Time `json:"last_seen,omitempty"`
}

type TypingStatus struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Action string `json:"action"` // "typing", "upload_photo", ...
}

type ChatAction struct {
	ChatID  int64  `json:"chat_id"`
	ActorID int64  `json:"actor_id"`
	Action  string `json:"action"` // "join", "leave", "pin", "title", ...
	Target  int64  `json:"target,omitempty"`
}

type Reaction struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Emoji     string `json:"emoji,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}

// Album is a reassembled burst of grouped-media messages, ordered by
// fragment message ID ascending.
type Album struct {
	GroupID  string    `json:"group_id"`
	Messages []Message `json:"messages"`
}
