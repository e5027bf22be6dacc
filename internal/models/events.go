package models

import (
	"encoding/json"
	"time"
)

// ClientEvent is an event sent from the client to the server.
type ClientEvent struct {
	Event ClientEventType `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is an event sent from the server to the client.
type ServerEvent struct {
	Event ServerEventType `json:"event"`
	Data  any             `json:"data,omitempty"`
}

type ClientEventType string

const (
	ClientRegister             ClientEventType = "register"
	ClientHeartbeat            ClientEventType = "heartbeat"
	ClientGetOnlineUsers       ClientEventType = "get_online_users"
	ClientCheckUserOnline      ClientEventType = "check_user_online"
	ClientJoinConversation     ClientEventType = "join_conversation"
	ClientLeaveConversation    ClientEventType = "leave_conversation"
	ClientTypingStart          ClientEventType = "typing_start"
	ClientTypingStop           ClientEventType = "typing_stop"
	ClientSendMessage          ClientEventType = "send_message"
	ClientMarkRead             ClientEventType = "mark_read"
	ClientMarkReadBulk         ClientEventType = "mark_read_bulk"
	ClientMarkConversationRead ClientEventType = "mark_conversation_read"
	ClientInitiateCall         ClientEventType = "initiate_call"
	ClientCallResponse         ClientEventType = "call_response"
	ClientEndCall              ClientEventType = "end_call"
	ClientWebRTCSignal         ClientEventType = "webrtc_signal"
)

type ServerEventType string

const (
	ServerUserOnline           ServerEventType = "user_online"
	ServerUserOffline          ServerEventType = "user_offline"
	ServerOnlineUsersList      ServerEventType = "online_users_list"
	ServerUserOnlineStatus     ServerEventType = "user_online_status"
	ServerUserTyping           ServerEventType = "user_typing"
	ServerNewMessage           ServerEventType = "new_message"
	ServerMessageNotification  ServerEventType = "message_notification"
	ServerMessageRead          ServerEventType = "message_read"
	ServerMessageReadReceipt   ServerEventType = "message_read_receipt"
	ServerConversationRead     ServerEventType = "conversation_read"
	ServerIncomingCall         ServerEventType = "incoming_call"
	ServerCallInitiated        ServerEventType = "call_initiated"
	ServerCallAnswered         ServerEventType = "call_answered"
	ServerCallEnded            ServerEventType = "call_ended"
	ServerWebRTCSignal         ServerEventType = "webrtc_signal"
	ServerUserAddedToGroup     ServerEventType = "user_added_to_group"
	ServerUserRemovedFromGroup ServerEventType = "user_removed_from_group"
	ServerGroupInfoUpdated     ServerEventType = "group_info_updated"
	ServerAdminTransferred     ServerEventType = "admin_transferred"
	ServerUserLeftGroup        ServerEventType = "user_left_group"
	ServerError                ServerEventType = "error"
)

// Inbound payloads.

type RegisterRequest struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Image    string `json:"image,omitempty"`
}

type UserIDRequest struct {
	UserID string `json:"userId"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type TypingRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type MarkReadRequest struct {
	MessageID string `json:"messageId"`
}

type MarkReadBulkRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type CallResponseRequest struct {
	MessageID string `json:"messageId"`
	Response  string `json:"response"`
}

type EndCallRequest struct {
	MessageID string `json:"messageId"`
	Duration  int64  `json:"duration"`
}

type SignalRequest struct {
	MessageID    string          `json:"messageId"`
	TargetUserID string          `json:"targetUserId"`
	Signal       json.RawMessage `json:"signal"`
}

// Outbound payloads.

type PresenceEvent struct {
	UserID   string  `json:"userId"`
	User     UserRef `json:"user"`
	IsOnline bool    `json:"isOnline"`
}

type OnlineStatusEvent struct {
	UserID   string   `json:"userId"`
	IsOnline bool     `json:"isOnline"`
	User     *UserRef `json:"user,omitempty"`
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

type MessageNotification struct {
	ConversationID string  `json:"conversationId"`
	MessageID      string  `json:"messageId"`
	Message        string  `json:"message"`
	Sender         UserRef `json:"sender"`
}

type ReadEvent struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	ReaderID       string    `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}

type ConversationReadEvent struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

type CallEvent struct {
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId"`
	Caller         *UserRef   `json:"caller,omitempty"`
	ResponderID    string     `json:"responderId,omitempty"`
	Response       string     `json:"response,omitempty"`
	EndedBy        string     `json:"endedBy,omitempty"`
	Status         CallStatus `json:"status,omitempty"`
	Duration       int64      `json:"duration,omitempty"`
}

type SignalEvent struct {
	MessageID  string          `json:"messageId"`
	FromUserID string          `json:"fromUserId"`
	Signal     json.RawMessage `json:"signal"`
}

type GroupEvent struct {
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId,omitempty"`
	ActorID        string     `json:"actorId,omitempty"`
	NewAdminID     string     `json:"newAdminId,omitempty"`
	Info           *GroupInfo `json:"updatedInfo,omitempty"`
}

type ErrorEvent struct {
	Event   ClientEventType `json:"event,omitempty"`
	Kind    ErrorKind       `json:"kind"`
	Message string          `json:"message"`
}
