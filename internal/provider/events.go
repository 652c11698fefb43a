// Package provider defines the raw event surface between a connected
// messaging session and the dispatch engine.
//
// The session itself is a black box: no ordering, delivery, or retry
// guarantees. Raw events are a closed set of tagged variants so a new
// provider event kind is a compile-time gap in the normalizer, not a
// silently-discarded string case.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is one raw provider event. The set of implementations in this
// package is closed.
type Event interface {
	rawEvent()
}

// Client is an already-connected provider session for one account.
// Run streams raw events onto out until ctx is cancelled.
type Client interface {
	AccountID() string
	Run(ctx context.Context, out chan<- Event) error
}

// Message is a new, edited, or channel message.
type Message struct {
	MessageID  int64     `json:"message_id"`
	ChatID     int64     `json:"chat_id"`
	SenderID   int64     `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text,omitempty"`
	Date       time.Time `json:"date,omitempty"`

	Edited      bool `json:"edited,omitempty"`
	ChannelPost bool `json:"channel_post,omitempty"`

	MediaType string `json:"media_type,omitempty"`
	MediaRef  string `json:"media_ref,omitempty"`

	// GroupID is the provider's grouped-media identifier; non-empty on
	// album fragments. GroupSeq orders fragments when the provider
	// assigns one (0 means "use MessageID").
	GroupID  string `json:"group_id,omitempty"`
	GroupSeq int64  `json:"group_seq,omitempty"`
}

// Deleted reports one or more messages removed from a chat.
type Deleted struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// UserStatus reports a presence change.
type UserStatus struct {
	UserID   int64     `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Typing reports a chat action indicator (typing, uploading, ...).
type Typing struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Action string `json:"action,omitempty"`
}

// ChatAction reports a structural chat event (join, leave, pin, ...).
type ChatAction struct {
	ChatID  int64  `json:"chat_id"`
	ActorID int64  `json:"actor_id"`
	Action  string `json:"action"`
	Target  int64  `json:"target,omitempty"`
}

// Reaction reports a reaction added to or removed from a message.
type Reaction struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Emoji     string `json:"emoji,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}

func (Message) rawEvent()    {}
func (Deleted) rawEvent()    {}
func (UserStatus) rawEvent() {}
func (Typing) rawEvent()     {}
func (ChatAction) rawEvent() {}
func (Reaction) rawEvent()   {}

// ---- Wire envelope (ingest bridge) ----

// ErrUnknownType is returned when an envelope names an event type this
// build does not know. Callers drop such events.
var ErrUnknownType = errors.New("unknown raw event type")

// Envelope is the JSON wire form used by the ingest endpoint: a type tag
// plus the variant payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode resolves the envelope into its typed event.
func (e Envelope) Decode() (Event, error) {
	var (
		ev  Event
		err error
	)
	switch e.Type {
	case "message":
		var v Message
		err = json.Unmarshal(e.Data, &v)
		ev = v
	case "deleted":
		var v Deleted
		err = json.Unmarshal(e.Data, &v)
		ev = v
	case "user_status":
		var v UserStatus
		err = json.Unmarshal(e.Data, &v)
		ev = v
	case "typing":
		var v Typing
		err = json.Unmarshal(e.Data, &v)
		ev = v
	case "chat_action":
		var v ChatAction
		err = json.Unmarshal(e.Data, &v)
		ev = v
	case "reaction":
		var v Reaction
		err = json.Unmarshal(e.Data, &v)
		ev = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	return ev, nil
}
