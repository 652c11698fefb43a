package dispatch

import (
	"fmt"

	"github.com/watzon/userbot-api-server/internal/provider"
	"github.com/watzon/userbot-api-server/internal/update"
)

// classify resolves the canonical kind and dedup identity of a raw
// event before any sequence number is allocated.
//
// The token is empty for kinds with no stable redelivery identity:
// presence, typing, chat actions and reactions are consecutive distinct
// events, not redeliveries, and deduping them by subject would swallow
// legitimate changes. Multi-id deletes are keyed per member by the
// caller.
func classify(ev provider.Event) (kind update.Kind, token string) {
	switch v := ev.(type) {
	case provider.Message:
		k := messageKind(v)
		switch k {
		case update.KindEditedMessage, update.KindEditedChannelPost:
			return k, fmt.Sprintf("%d:%d:%d", v.ChatID, v.MessageID, v.Date.Unix())
		default:
			return k, fmt.Sprintf("%d:%d", v.ChatID, v.MessageID)
		}
	case provider.Deleted:
		return update.KindDeletedMessage, ""
	case provider.UserStatus:
		return update.KindUserStatus, ""
	case provider.Typing:
		return update.KindTypingStatus, ""
	case provider.ChatAction:
		return update.KindChatAction, ""
	case provider.Reaction:
		return update.KindReaction, ""
	}
	return "", ""
}

// deletedToken keys one member of a multi-id delete.
func deletedToken(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func messageKind(m provider.Message) update.Kind {
	// Album fragments dedup and filter under the album kind so that a
	// redelivered fragment cannot reopen a flushed group.
	if m.GroupID != "" {
		return update.KindAlbum
	}
	switch {
	case m.ChannelPost && m.Edited:
		return update.KindEditedChannelPost
	case m.ChannelPost:
		return update.KindChannelPost
	case m.Edited:
		return update.KindEditedMessage
	}
	return update.KindMessage
}

// buildUpdate wraps a raw event into the canonical envelope under the
// given sequence number. Album fragments never reach here; they flow
// through buildAlbum once their group completes.
func buildUpdate(id int64, kind update.Kind, ev provider.Event) update.Update {
	u := update.Update{ID: id}
	switch v := ev.(type) {
	case provider.Message:
		m := toMessage(v)
		switch kind {
		case update.KindEditedChannelPost:
			u.EditedChannelPost = &m
		case update.KindChannelPost:
			u.ChannelPost = &m
		case update.KindEditedMessage:
			u.EditedMessage = &m
		default:
			u.Message = &m
		}
	case provider.Deleted:
		u.DeletedMessage = &update.DeletedMessage{ChatID: v.ChatID, MessageIDs: v.MessageIDs}
	case provider.UserStatus:
		u.UserStatus = &update.UserStatus{UserID: v.UserID, Status: v.Status, LastSeen: v.LastSeen}
	case provider.Typing:
		u.TypingStatus = &update.TypingStatus{ChatID: v.ChatID, UserID: v.UserID, Action: v.Action}
	case provider.ChatAction:
		u.ChatAction = &update.ChatAction{ChatID: v.ChatID, ActorID: v.ActorID, Action: v.Action, Target: v.Target}
	case provider.Reaction:
		u.Reaction = &update.Reaction{ChatID: v.ChatID, MessageID: v.MessageID, UserID: v.UserID, Emoji: v.Emoji, Removed: v.Removed}
	}
	return u
}

// buildAlbum wraps a completed fragment group. Fragments arrive already
// ordered from the assembler.
func buildAlbum(id int64, group string, items []provider.Message) update.Update {
	msgs := make([]update.Message, len(items))
	for i, it := range items {
		msgs[i] = toMessage(it)
	}
	return update.Update{ID: id, Album: &update.Album{GroupID: group, Messages: msgs}}
}

func toMessage(v provider.Message) update.Message {
	return update.Message{
		ID:         v.MessageID,
		ChatID:     v.ChatID,
		SenderID:   v.SenderID,
		SenderName: v.SenderName,
		Text:       v.Text,
		Date:       v.Date,
		MediaType:  v.MediaType,
		MediaRef:   v.MediaRef,
		GroupID:    v.GroupID,
	}
}
