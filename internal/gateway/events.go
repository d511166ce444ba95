package gateway

import (
	"encoding/json"
	"log"
	"time"
)

// Frame : кадр протокола поверх websocket.
// Payload зависит от типа события
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// События клиент -> шлюз
const (
	EventJoinConversation  = "join:conversation"
	EventLeaveConversation = "leave:conversation"
	EventMessageSend       = "message:send"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventPresenceUpdate    = "presence:update"
	EventReactionAdd       = "reaction:add"
	EventReactionRemove    = "reaction:remove"
	EventConversationRead  = "conversation:read"
)

// События шлюз -> клиент
const (
	EventMessageNew       = "message:new"
	EventTypingUser       = "typing:user"
	EventPresenceUser     = "presence:user"
	EventReactionUpdate   = "reaction:update"
	EventConversationLeft = "conversation:left"
	EventError            = "error"
)

// Коды ошибок в событии error
const (
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodeNotARoomMember        = "NOT_A_ROOM_MEMBER"
	CodeMembershipUnavailable = "MEMBERSHIP_UNAVAILABLE"
)

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID      string   `json:"roomId"`
	Content     string   `json:"content"`
	ReplyTo     string   `json:"replyTo,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type PresenceUpdatePayload struct {
	Status string `json:"status"`
}

type ReactionPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type ReadPayload struct {
	RoomID            string `json:"roomId"`
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
}

type MessageNewPayload struct {
	MessageID   string   `json:"messageId"`
	RoomID      string   `json:"roomId"`
	SenderID    string   `json:"senderId"`
	SenderName  string   `json:"senderName"`
	Content     string   `json:"content"`
	ReplyTo     string   `json:"replyTo,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	SentAt      string   `json:"sentAt"`
}

type TypingUserPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

type PresenceUserPayload struct {
	UserID   string     `json:"userId"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type ReactionUpdatePayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"`
}

type ConversationReadPayload struct {
	RoomID            string `json:"roomId"`
	UserID            string `json:"userId"`
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
}

type ConversationLeftPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("ошибка сериализации payload события: %v", err)
		return nil
	}
	return b
}
